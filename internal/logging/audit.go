// Package logging also provides the append-only audit trail for agent
// actions. Audit records are the durable, file-backed mirror of the
// agent_actions table — see internal/auth for the Store-backed sink that
// writes the same record to that table after each dispatched call.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// =============================================================================
// AUDIT RECORD
// =============================================================================

// AuditRecord is the Agent Action Audit Record: one entry per tool call the
// dispatcher accepts or rejects.
type AuditRecord struct {
	Timestamp int64                  `json:"at"`        // Unix milliseconds
	AgentID   string                 `json:"agent_id"`   // principal's agent id, "" for admin
	Principal string                 `json:"principal"`  // "admin" or "agent"
	Action    string                 `json:"action"`     // tool name, e.g. "create_task"
	TargetID  string                 `json:"target_id"`  // task/phase/chunk id affected, if any
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// =============================================================================
// AUDIT SINK
// =============================================================================

const (
	auditFileName  = "audit.jsonl"
	auditMaxBytes  = 50 * 1024 * 1024
	auditKeepGens  = 3
)

var (
	auditFile    *os.File
	auditFileMu  sync.Mutex
	auditByteLen int64
)

// InitAudit opens (or creates) the audit log file under .agent/logs/. Safe
// to call even when debug logging is disabled: the audit trail is part of
// the durable record, not a debug aid, so it is independent of DebugMode.
func InitAudit() error {
	auditFileMu.Lock()
	defer auditFileMu.Unlock()

	if auditFile != nil {
		return nil
	}
	if logsDir == "" {
		return fmt.Errorf("logging not initialized: call Initialize first")
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	path := filepath.Join(logsDir, auditFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err == nil {
		auditByteLen = info.Size()
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file. Call at shutdown.
func CloseAudit() {
	auditFileMu.Lock()
	defer auditFileMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
		auditByteLen = 0
	}
}

// WriteAudit appends one audit record to the audit.jsonl mirror file,
// rotating at auditMaxBytes. This is the recovery copy; the agent_actions
// Store table written in the same logical operation is the source of truth.
func WriteAudit(rec AuditRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	auditFileMu.Lock()
	defer auditFileMu.Unlock()

	if auditFile == nil {
		return fmt.Errorf("audit log not initialized")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	line := append(data, '\n')

	if auditByteLen+int64(len(line)) > auditMaxBytes {
		if err := rotateAuditLocked(); err != nil {
			Get(CategoryAuth).Warn("audit rotation failed: %v", err)
		}
	}

	n, err := auditFile.Write(line)
	auditByteLen += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// rotateAuditLocked renames audit.jsonl -> .1 -> .2 -> .3 (dropping the
// oldest) and opens a fresh audit.jsonl. Caller must hold auditFileMu.
func rotateAuditLocked() error {
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}

	base := filepath.Join(logsDir, auditFileName)
	for i := auditKeepGens - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", base, i)
		dst := fmt.Sprintf("%s.%d", base, i+1)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(base); err == nil {
		os.Rename(base, base+".1")
	}

	file, err := os.OpenFile(base, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	auditFile = file
	auditByteLen = 0
	return nil
}
