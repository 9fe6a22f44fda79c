package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLoggingState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	configLoaded = false
}

func writeTestConfig(t *testing.T, dir string, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".agent")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"boot": true,
				"store": true,
				"migration": true,
				"graph": true,
				"auth": true,
				"dispatcher": true,
				"embedding": true,
				"rag": true,
				"coordination": true
			}
		}
	}`)

	resetLoggingState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Error("expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategoryStore,
		CategoryMigration,
		CategoryGraph,
		CategoryAuth,
		CategoryDispatcher,
		CategoryEmbedding,
		CategoryRAG,
		CategoryCoordination,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("info message for %s", cat)
		logger.Debug("debug message for %s", cat)
		logger.Warn("warn message for %s", cat)
		logger.Error("error message for %s", cat)
	}

	Boot("boot convenience log")
	Store("store convenience log")
	Migration("migration convenience log")
	Graph("graph convenience log")
	Auth("auth convenience log")
	Dispatcher("dispatcher convenience log")
	Embedding("embedding convenience log")
	RAG("rag convenience log")
	Coordination("coordination convenience log")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".agent", "logs")
	entries, err := os.ReadDir(logsPath)
	if err != nil {
		t.Fatalf("failed to read logs dir: %v", err)
	}

	for _, cat := range categories {
		found := false
		for _, entry := range entries {
			if strings.Contains(entry.Name(), string(cat)+".log") {
				found = true
				content, err := os.ReadFile(filepath.Join(logsPath, entry.Name()))
				if err != nil {
					t.Errorf("failed to read log file for %s: %v", cat, err)
					continue
				}
				if len(content) == 0 {
					t.Errorf("log file for %s is empty", cat)
				}
				break
			}
		}
		if !found {
			t.Errorf("no log file found for category: %s", cat)
		}
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_disabled")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": false,
			"categories": {"boot": true, "store": true, "graph": true}
		}
	}`)

	resetLoggingState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("expected debug mode to be disabled")
	}

	for _, cat := range []Category{CategoryBoot, CategoryStore, CategoryGraph} {
		if IsCategoryEnabled(cat) {
			t.Errorf("category %s should be disabled when debug_mode=false", cat)
		}
	}

	Boot("should not be logged")
	Store("should not be logged")

	logger := Get(CategoryBoot)
	logger.Info("should not be logged")
	logger.Error("should not be logged")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".agent", "logs")
	if _, err := os.Stat(logsPath); err == nil {
		entries, _ := os.ReadDir(logsPath)
		if len(entries) > 0 {
			t.Errorf("expected no log files in production mode, found %d", len(entries))
		}
	}
}

func TestCategoryToggle(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_category")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"boot": true,
				"store": true,
				"rag": false,
				"auth": false
			}
		}
	}`)

	resetLoggingState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	if !IsCategoryEnabled(CategoryBoot) {
		t.Error("boot should be enabled")
	}
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("store should be enabled")
	}
	if IsCategoryEnabled(CategoryRAG) {
		t.Error("rag should be disabled")
	}
	if IsCategoryEnabled(CategoryAuth) {
		t.Error("auth should be disabled")
	}
	if !IsCategoryEnabled(CategoryGraph) {
		t.Error("graph (not in config) should default to enabled")
	}

	Boot("should be logged")
	Store("should be logged")
	RAG("should not be logged")
	Auth("should not be logged")
	Graph("should be logged (default enabled)")

	CloseAll()
	CloseAudit()

	logsPath := filepath.Join(tempDir, ".agent", "logs")
	entries, _ := os.ReadDir(logsPath)

	var hasBoot, hasStore, hasRAG, hasAuth bool
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.Contains(name, "boot"):
			hasBoot = true
		case strings.Contains(name, "store"):
			hasStore = true
		case strings.Contains(name, "rag"):
			hasRAG = true
		case strings.Contains(name, "auth"):
			hasAuth = true
		}
	}

	if !hasBoot {
		t.Error("expected boot log file")
	}
	if !hasStore {
		t.Error("expected store log file")
	}
	if hasRAG {
		t.Error("should not have rag log file (disabled)")
	}
	if hasAuth {
		t.Error("should not have auth log file (disabled)")
	}
}

func TestTimerLogging(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "logging_test_timer")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	writeTestConfig(t, tempDir, `{"logging": {"level": "debug", "debug_mode": true}}`)

	resetLoggingState()
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	timer := StartTimer(CategoryGraph, "rollup")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()

	if elapsed <= 0 {
		t.Error("timer should have recorded non-zero duration")
	}

	CloseAll()
	CloseAudit()
}
