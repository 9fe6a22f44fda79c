// Package rag implements C7 RAG Pipeline: file and context chunking,
// batched embedding, vector upsert, and similarity query with a wall-clock
// budget, per spec.md §4.7.
package rag

import "strings"

// Chunk is one piece of source text awaiting embedding.
type Chunk struct {
	Text   string
	Offset int
	Length int
}

// splitChunks breaks text on natural boundaries (blank lines, fenced code
// blocks) into chunks of roughly targetSize characters with overlapSize
// characters of trailing context carried into the next chunk, per
// spec.md §4.7: "split on natural boundaries (paragraph, code block) with
// a target chunk size and bounded overlap".
func splitChunks(text string, targetSize, overlapSize int) []Chunk {
	if targetSize <= 0 {
		targetSize = 2000
	}
	if overlapSize < 0 || overlapSize >= targetSize {
		overlapSize = 200
	}

	paragraphs := splitOnNaturalBoundaries(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder
	currentOffset := 0
	cursor := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: current.String(), Offset: currentOffset, Length: current.Len()})
		current.Reset()
	}

	for _, p := range paragraphs {
		if current.Len() > 0 && current.Len()+len(p) > targetSize {
			flush()
			overlap := lastNChars(chunks[len(chunks)-1].Text, overlapSize)
			current.WriteString(overlap)
			currentOffset = cursor - len(overlap)
			if currentOffset < 0 {
				currentOffset = 0
			}
		}
		if current.Len() == 0 {
			currentOffset = cursor
		}
		current.WriteString(p)
		cursor += len(p)
	}
	flush()

	return chunks
}

// splitOnNaturalBoundaries splits on blank lines while keeping fenced code
// blocks (```...```) intact as single units.
func splitOnNaturalBoundaries(text string) []string {
	lines := strings.Split(text, "\n")
	var units []string
	var current strings.Builder
	inCodeBlock := false

	flush := func() {
		if current.Len() > 0 {
			units = append(units, current.String())
			current.Reset()
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCodeBlock = !inCodeBlock
			current.WriteString(line)
			current.WriteString("\n")
			if !inCodeBlock {
				flush()
			}
			continue
		}
		if !inCodeBlock && trimmed == "" {
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()
	return units
}

func lastNChars(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
