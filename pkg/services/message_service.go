package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobox-ai/mobox/pkg/models"
)

// MessageService manages chat messages.
type MessageService struct {
	pool *pgxpool.Pool
}

// NewMessageService creates a new MessageService
func NewMessageService(pool *pgxpool.Pool) *MessageService {
	return &MessageService{pool: pool}
}

const messageColumns = `id, chat_id, role, content, message_metadata, created_at`

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.ChatMessage
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Metadata, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddUserMessage persists the user's prompt and bumps the session's
// updated_at. Saved before the agent runs so the prompt survives worker
// failures.
func (s *MessageService) AddUserMessage(httpCtx context.Context, chatID, content string) (*models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING `+messageColumns,
		uuid.NewString(), chatID, models.RoleUser, content)
	message, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE chat_sessions SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit user message: %w", err)
	}

	slog.Info("Saved user message", "session_id", chatID)
	return message, nil
}

// ListMessages returns paginated messages in ascending creation order.
//
// With offset 0 it returns the LAST limit messages (the tail of the
// conversation); the returned offset is where that window actually
// starts, so infinite scroll can page backwards from it.
func (s *MessageService) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]*models.ChatMessage, int, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages WHERE chat_id = $1`, chatID).Scan(&total); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	if total == 0 {
		return []*models.ChatMessage{}, 0, 0, nil
	}

	actualOffset := offset
	var rows pgx.Rows
	var err error
	if offset == 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT * FROM (
				SELECT `+messageColumns+` FROM chat_messages
				WHERE chat_id = $1
				ORDER BY created_at DESC, id DESC
				LIMIT $2
			) tail ORDER BY created_at ASC, id ASC`, chatID, limit)
		actualOffset = total - limit
		if actualOffset < 0 {
			actualOffset = 0
		}
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM chat_messages
			WHERE chat_id = $1
			ORDER BY created_at ASC, id ASC
			OFFSET $2 LIMIT $3`, chatID, offset, limit)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.ChatMessage{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}
	return messages, total, actualOffset, nil
}

// History serializes the session's full conversation as a JSON array of
// {role, content} entries for the worker. Empty string when there are no
// messages.
func (s *MessageService) History(ctx context.Context, chatID string) (string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return "", fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.Role, &e.Content); err != nil {
			return "", fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}
	return string(data), nil
}

// ListEvents returns a page of the session's audit trail in ascending
// creation order, along with the total event count.
func (s *MessageService) ListEvents(ctx context.Context, chatID string, limit, offset int) ([]*models.ChatEvent, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_events WHERE chat_id = $1`, chatID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, COALESCE(message_id::text, ''), event_type, COALESCE(event_name, ''), event_data, created_at
		FROM chat_events
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC
		OFFSET $2 LIMIT $3`, chatID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.ChatEvent{}
	for rows.Next() {
		var e models.ChatEvent
		if err := rows.Scan(&e.ID, &e.ChatID, &e.MessageID, &e.EventType, &e.EventName, &e.EventData, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}
