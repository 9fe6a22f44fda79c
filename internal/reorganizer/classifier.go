package reorganizer

import "strings"

// phaseDefinition names the keyword signal and display metadata for one
// canonical phase, grounded on original_source/agent_mcp/core/
// startup_migration.py's AIPhaseClassifier.phase_definitions.
type phaseDefinition struct {
	ID          string
	Name        string
	Description string
	Keywords    []string
}

var phaseDefinitions = []phaseDefinition{
	{
		ID:          "phase_1_foundation",
		Name:        "Phase 1: Foundation",
		Description: "Core system architecture, database, authentication, and basic APIs",
		Keywords: []string{
			"database", "schema", "authentication", "auth", "login", "setup",
			"architecture", "config", "configuration", "install", "deployment",
			"infrastructure", "basic", "core", "fundamental", "init", "initialize",
			"bootstrap", "foundation", "structure", "framework", "base", "system",
		},
	},
	{
		ID:          "phase_2_intelligence",
		Name:        "Phase 2: Intelligence",
		Description: "RAG system, embeddings, context management, and AI integration",
		Keywords: []string{
			"ai", "artificial intelligence", "embeddings", "vector", "rag",
			"retrieval", "search", "semantic", "nlp", "context", "smart",
			"intelligence", "learning", "recommendation", "analysis", "chatbot",
			"llm", "gpt", "openai", "machine learning", "knowledge", "understanding",
		},
	},
	{
		ID:          "phase_3_coordination",
		Name:        "Phase 3: Coordination",
		Description: "Multi-agent workflows, task orchestration, and system integration",
		Keywords: []string{
			"workflow", "orchestration", "integration", "coordination", "agent",
			"multi-agent", "collaboration", "sync", "communication", "api",
			"webhook", "event", "notification", "automation", "process",
			"pipeline", "task management", "assignment", "scheduling", "ui", "ux",
			"interface", "frontend", "user experience", "design", "styling",
		},
	},
	{
		ID:          "phase_4_optimization",
		Name:        "Phase 4: Optimization",
		Description: "Performance tuning, scaling, monitoring, and production readiness",
		Keywords: []string{
			"performance", "optimization", "scaling", "monitoring", "production",
			"deployment", "ci/cd", "testing", "quality", "security", "audit",
			"analytics", "metrics", "dashboard", "reporting", "maintenance",
			"polish", "refinement", "enhancement", "speed", "efficiency", "test",
			"bug", "fix", "optimize", "improve",
		},
	},
}

func keywordScore(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// classifyTask scores a task's title/description/status against every
// phase definition and applies the same heuristic adjustments as the
// teacher's apply_heuristic_rules, returning the best-scoring phase and
// its confidence.
func classifyTask(t *rawTask) (phaseID string, confidence float64) {
	text := strings.ToLower(t.Title + " " + t.Description)
	scores := make(map[string]float64, len(phaseDefinitions))
	for _, def := range phaseDefinitions {
		scores[def.ID] = keywordScore(text, def.Keywords)
	}
	applyHeuristics(t, text, scores)

	best, bestScore := "phase_1_foundation", -1.0
	for _, def := range phaseDefinitions {
		if scores[def.ID] > bestScore {
			best, bestScore = def.ID, scores[def.ID]
		}
	}
	if bestScore < 0.05 {
		return "phase_1_foundation", 0.1
	}
	return best, bestScore
}

func applyHeuristics(t *rawTask, text string, scores map[string]float64) {
	if t.Status == "completed" && containsAny(text, "setup", "config", "install", "init", "create") {
		scores["phase_1_foundation"] += 0.4
	}
	if containsAny(text, "ui", "ux", "interface", "design", "styling", "page", "component", "marketing", "home", "website") {
		scores["phase_3_coordination"] += 0.3
	}
	if containsAny(text, "test", "testing", "qa", "quality", "bug", "fix", "polish", "enhance", "improve") {
		scores["phase_4_optimization"] += 0.4
	}
	if containsAny(text, "calculator", "quote", "pricing", "form", "feature") {
		scores["phase_3_coordination"] += 0.3
	}
	if containsAny(text, "database", "schema", "table", "migration", "auth", "authentication") {
		scores["phase_1_foundation"] += 0.3
	}
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// workstreamPatterns mirrors relationship_aware_migration.py's
// _determine_workstream_type keyword table.
var workstreamPatterns = []struct {
	Key      string
	Keywords []string
}{
	{"authentication", []string{"auth", "login", "user", "profile", "session", "signup"}},
	{"quote_calculator", []string{"quote", "calculator", "pricing", "estimate"}},
	{"dashboard", []string{"dashboard", "admin", "management", "overview"}},
	{"api_development", []string{"api", "endpoint", "service", "backend"}},
	{"database", []string{"database", "schema", "table", "migration"}},
	{"ui_development", []string{"ui", "component", "page", "interface", "frontend"}},
	{"testing", []string{"test", "testing", "quality", "qa"}},
	{"deployment", []string{"deploy", "deployment", "production", "ci", "cd"}},
}

var workstreamTitles = map[string]string{
	"authentication":   "Authentication & User Management",
	"quote_calculator": "Quote Calculator System",
	"dashboard":        "Dashboard Features",
	"api_development":  "API Development",
	"database":         "Database Architecture",
	"ui_development":   "UI Components & Pages",
	"testing":          "Testing Framework",
	"deployment":       "Deployment & DevOps",
	"general":          "General Tasks",
}

// determineWorkstreamType scores a cluster's aggregate text against
// workstreamPatterns and returns the top-scoring key, or "general" if no
// pattern matches at all.
func determineWorkstreamType(tasks []*rawTask) string {
	var sb strings.Builder
	for _, t := range tasks {
		sb.WriteString(" ")
		sb.WriteString(t.Title)
		sb.WriteString(" ")
		sb.WriteString(t.Description)
	}
	text := strings.ToLower(sb.String())

	bestKey, bestScore := "general", 0
	for _, p := range workstreamPatterns {
		score := 0
		for _, kw := range p.Keywords {
			score += strings.Count(text, kw)
		}
		if score > bestScore {
			bestKey, bestScore = p.Key, score
		}
	}
	return bestKey
}

func workstreamTitle(key string) string {
	if title, ok := workstreamTitles[key]; ok {
		return title
	}
	return strings.ReplaceAll(key, "_", " ")
}
