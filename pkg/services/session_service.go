// Package services implements the persistence layer over PostgreSQL.
//
// Services take a caller context for reads. Critical writes use a
// background context with a timeout so a dropped HTTP client cannot
// abort them mid-transaction.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobox-ai/mobox/pkg/models"
)

const writeTimeout = 10 * time.Second

// SessionService manages chat session lifecycle.
type SessionService struct {
	pool *pgxpool.Pool
}

// NewSessionService creates a new SessionService
func NewSessionService(pool *pgxpool.Pool) *SessionService {
	return &SessionService{pool: pool}
}

const sessionColumns = `id, COALESCE(title, ''), COALESCE(agent_id, ''), COALESCE(agent_name, ''),
	COALESCE(sdk_session_id, ''), created_at, updated_at`

func scanSession(row pgx.Row) (*models.ChatSession, error) {
	var s models.ChatSession
	err := row.Scan(&s.ID, &s.Title, &s.AgentID, &s.AgentName, &s.SDKSessionID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns one session, or ErrNotFound.
func (s *SessionService) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// List returns all sessions, most recently updated first.
func (s *SessionService) List(ctx context.Context) ([]*models.ChatSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.ChatSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Create creates a new session. An empty request id gets a generated
// UUID; an empty title gets the placeholder.
func (s *SessionService) Create(httpCtx context.Context, req models.CreateSessionRequest) (*models.ChatSession, error) {
	if req.AgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	title := req.Title
	if title == "" {
		title = models.TitlePlaceholder
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, title, agent_id, agent_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+sessionColumns,
		id, title, req.AgentID, req.AgentName)
	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Created session",
		"session_id", session.ID,
		"agent_id", session.AgentID)
	return session, nil
}

// GetOrCreate resolves the session for an incoming chat turn.
//
// An existing session is reused; its placeholder title is replaced with
// one derived from the prompt. A supplied-but-unknown id creates a new
// session under that id. Returns the session and whether it was created.
func (s *SessionService) GetOrCreate(httpCtx context.Context, sessionID, agentID, agentName, prompt string) (*models.ChatSession, bool, error) {
	if sessionID != "" {
		session, err := s.Get(httpCtx, sessionID)
		if err == nil {
			if session.Title == models.TitlePlaceholder {
				title := models.TitleFromPrompt(prompt)
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				defer cancel()
				if _, uerr := s.pool.Exec(ctx, `UPDATE chat_sessions SET title = $2 WHERE id = $1`, session.ID, title); uerr != nil {
					return nil, false, fmt.Errorf("failed to update session title: %w", uerr)
				}
				session.Title = title
			}
			return session, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (id, title, agent_id, agent_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+sessionColumns,
		id, models.TitleFromPrompt(prompt), agentID, agentName)
	session, err := scanSession(row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Created new session",
		"session_id", session.ID,
		"agent_id", agentID,
		"agent_name", agentName)
	return session, true, nil
}

// Touch bumps the session's updated_at so it sorts to the top of the
// session list.
func (s *SessionService) Touch(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Delete removes a session and, via cascade, its messages, events, and
// usage rows. Returns ErrNotFound for an unknown id.
func (s *SessionService) Delete(httpCtx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	slog.Info("Deleted session", "session_id", id)
	return nil
}

// DeleteAll removes every session. Returns how many were deleted.
func (s *SessionService) DeleteAll(httpCtx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_sessions`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	slog.Info("Deleted all sessions", "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Context aggregates usage across all turns of a session.
func (s *SessionService) Context(ctx context.Context, id string) (*models.ChatSession, models.UsageTotals, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, models.UsageTotals{}, err
	}

	var totals models.UsageTotals
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM chat_usage WHERE chat_id = $1`, id).
		Scan(&totals.InputTokens, &totals.OutputTokens, &totals.TotalTokens, &totals.CostUSD)
	if err != nil {
		return nil, models.UsageTotals{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return session, totals, nil
}
