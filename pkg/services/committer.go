package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobox-ai/mobox/pkg/models"
)

// PendingEvent is an audit-trail event collected during streaming,
// waiting for the post-stream commit.
type PendingEvent struct {
	EventType string
	EventName string
	Data      map[string]any
}

// StreamState accumulates everything one agent turn produces that must
// outlive the stream: the assistant's text and reasoning, processing
// status lines, the final todo list, audit events, usage, and the vendor
// session id.
type StreamState struct {
	Text         string
	Thinking     string
	Status       []string
	Todos        []any
	Events       []PendingEvent
	Usage        models.UsageTotals
	SDKSessionID string
}

// HasContent reports whether the turn produced anything worth saving as
// an assistant message.
func (st *StreamState) HasContent() bool {
	return st.Text != "" || st.Thinking != "" || len(st.Status) > 0 || len(st.Todos) > 0
}

// Committer persists a finished agent turn in a single transaction.
type Committer struct {
	pool *pgxpool.Pool
}

// NewCommitter creates a new Committer
func NewCommitter(pool *pgxpool.Pool) *Committer {
	return &Committer{pool: pool}
}

// CommitAssistantTurn writes the assistant message, audit events, usage
// row, and vendor session id for one turn, atomically. Runs on a
// background context so a client disconnect cannot abort it.
func (c *Committer) CommitAssistantTurn(sessionID string, st *StreamState) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if st.HasContent() {
		metadata := map[string]any{}
		if len(st.Status) > 0 {
			metadata["processing"] = st.Status
		}
		if st.Thinking != "" {
			metadata["thinking"] = st.Thinking
		}
		if len(st.Todos) > 0 {
			metadata["todos"] = st.Todos
		}
		var metadataArg any
		if len(metadata) > 0 {
			metadataArg = metadata
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chat_messages (id, chat_id, role, content, message_metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			uuid.NewString(), sessionID, models.RoleAssistant, st.Text, metadataArg)
		if err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		slog.Info("Saving assistant message",
			"session_id", sessionID,
			"content_chars", len(st.Text))
	}

	for _, ev := range st.Events {
		var name any
		if ev.EventName != "" {
			name = ev.EventName
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_events (id, chat_id, event_type, event_name, event_data, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			uuid.NewString(), sessionID, ev.EventType, name, ev.Data)
		if err != nil {
			return fmt.Errorf("failed to save chat event: %w", err)
		}
	}

	if st.Usage.TotalTokens > 0 || st.Usage.CostUSD > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_usage (id, chat_id, input_tokens, output_tokens, total_tokens, cost_usd, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			uuid.NewString(), sessionID, st.Usage.InputTokens, st.Usage.OutputTokens, st.Usage.TotalTokens, st.Usage.CostUSD)
		if err != nil {
			return fmt.Errorf("failed to save usage: %w", err)
		}
		slog.Info("Saved usage",
			"session_id", sessionID,
			"total_tokens", st.Usage.TotalTokens,
			"cost_usd", st.Usage.CostUSD)
	}

	if st.SDKSessionID != "" {
		_, err = tx.Exec(ctx, `
			UPDATE chat_sessions SET sdk_session_id = $2, updated_at = now()
			WHERE id = $1 AND sdk_session_id IS DISTINCT FROM $2`,
			sessionID, st.SDKSessionID)
		if err != nil {
			return fmt.Errorf("failed to save sdk session id: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit assistant turn: %w", err)
	}

	slog.Info("Committed assistant turn", "session_id", sessionID)
	return nil
}
