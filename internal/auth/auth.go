// Package auth implements C5 Auth & Audit: opaque-token verification,
// principal resolution, and the append-only audit sink, per spec.md §4.5.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
	"github.com/agent-mcp/agent-mcp/internal/dispatch"
	"github.com/agent-mcp/agent-mcp/internal/logging"
	"github.com/agent-mcp/agent-mcp/internal/store"
)

// Tokens are opaque secrets hashed with sha256 before they ever touch disk
// or memory long-term, the same hashing idiom the teacher uses for PKCE
// verifiers in internal/auth/antigravity/oauth.go.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type agentRecord struct {
	AgentID string
	Status  string
}

// Auth resolves tokens to principals and records every tool call as a
// durable audit entry (spec.md §4.5: "Audit records are append-only and
// survive restart").
type Auth struct {
	st *store.Store

	mu             sync.RWMutex
	adminTokenHash string
	agentsByHash   map[string]agentRecord
	statusByAgent  map[string]string
}

// New loads the agent token cache from st and pins adminToken as the single
// admin secret.
func New(ctx context.Context, st *store.Store, adminToken string) (*Auth, error) {
	a := &Auth{
		st:             st,
		adminTokenHash: hashToken(adminToken),
		agentsByHash:   make(map[string]agentRecord),
		statusByAgent:  make(map[string]string),
	}
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Auth) reload(ctx context.Context) error {
	rows, err := a.st.Query(ctx, "SELECT agent_id, token_hash, status FROM agents")
	if err != nil {
		return fmt.Errorf("loading agent tokens: %w", err)
	}
	defer rows.Close()

	byHash := make(map[string]agentRecord)
	byAgent := make(map[string]string)
	for rows.Next() {
		var agentID, tokenHash, status string
		if err := rows.Scan(&agentID, &tokenHash, &status); err != nil {
			continue
		}
		byHash[tokenHash] = agentRecord{AgentID: agentID, Status: status}
		byAgent[agentID] = status
	}

	a.mu.Lock()
	a.agentsByHash = byHash
	a.statusByAgent = byAgent
	a.mu.Unlock()
	return nil
}

// RegisterAgent creates or updates an agent's token and status.
func (a *Auth) RegisterAgent(ctx context.Context, agentID, token, color string) error {
	tokenHash := hashToken(token)
	err := a.st.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO agents (agent_id, token_hash, status, color, created_at)
			VALUES (?, ?, 'active', ?, datetime('now'))
			ON CONFLICT(agent_id) DO UPDATE SET token_hash=excluded.token_hash, color=excluded.color`,
			agentID, tokenHash, color)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: registering agent: %v", apperrors.ErrInternal, err)
	}
	return a.reload(ctx)
}

// TerminateAgent marks an agent terminated. Per the Open Question decision
// in SPEC_FULL.md, a terminated agent's token stays valid for read-only
// tool calls but is refused by any write tool.
func (a *Auth) TerminateAgent(ctx context.Context, agentID string) error {
	err := a.st.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE agents SET status='terminated' WHERE agent_id=?", agentID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: terminating agent: %v", apperrors.ErrInternal, err)
	}
	return a.reload(ctx)
}

// AgentStatus implements graph.AgentLookup.
func (a *Auth) AgentStatus(agentID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	status, ok := a.statusByAgent[agentID]
	return status, ok
}

// Resolve maps an opaque token to its principal (spec.md §4.5's
// verify/principal pair, collapsed into one call since both return the
// same lookup). Constant-time comparison against the admin hash avoids a
// timing side-channel on the one secret shared across every request.
func (a *Auth) Resolve(token string) (dispatch.Principal, error) {
	if token == "" {
		return dispatch.Principal{}, fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	}
	hash := hashToken(token)

	if subtle.ConstantTimeCompare([]byte(hash), []byte(a.adminTokenHash)) == 1 {
		return dispatch.Principal{IsAdmin: true, Status: "active"}, nil
	}

	a.mu.RLock()
	rec, ok := a.agentsByHash[hash]
	a.mu.RUnlock()
	if !ok {
		return dispatch.Principal{}, fmt.Errorf("%w: unrecognized token", apperrors.ErrUnauthorized)
	}
	return dispatch.Principal{AgentID: rec.AgentID, Status: rec.Status}, nil
}

// RecordAction implements dispatch.AuditSink: it writes one audit record to
// both the file-backed trail (internal/logging.WriteAudit) and the Store's
// agent_actions table, matching spec.md §4.5's "survive restart" and
// "one audit record per invocation, regardless of outcome" requirements.
func (a *Auth) RecordAction(ctx context.Context, p dispatch.Principal, action, targetID string, success bool, callErr error, details map[string]interface{}) {
	principalLabel := "admin"
	agentID := ""
	if !p.IsAdmin {
		principalLabel = "agent"
		agentID = p.AgentID
	}

	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	}

	rec := logging.AuditRecord{
		Timestamp: nowMillis(),
		AgentID:   agentID,
		Principal: principalLabel,
		Action:    action,
		TargetID:  targetID,
		Success:   success,
		Error:     errMsg,
		Details:   elideSecrets(details),
	}
	if err := logging.WriteAudit(rec); err != nil {
		logging.AuthWarn("failed to write file-backed audit record: %v", err)
	}

	if err := a.persistAction(ctx, agentID, action, targetID, success, errMsg, rec.Details); err != nil {
		logging.AuthWarn("failed to persist audit record to store: %v", err)
	}
}

func (a *Auth) persistAction(ctx context.Context, agentID, action, targetID string, success bool, errMsg string, details map[string]interface{}) error {
	detailsJSON := marshalDetails(details)
	_, err := a.st.Exec(ctx, `INSERT INTO agent_actions (agent_id, action, target_id, details, success, error, at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))`,
		agentID, action, targetID, detailsJSON, success, errMsg)
	return err
}

// elideSecrets strips argument keys that commonly carry bearer secrets
// before they reach the durable audit trail (spec.md §4.5: "argument
// summary (with secrets elided)").
func elideSecrets(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		switch k {
		case "token", "actor_token", "admin_token", "password", "secret":
			out[k] = "[elided]"
		default:
			out[k] = v
		}
	}
	return out
}
