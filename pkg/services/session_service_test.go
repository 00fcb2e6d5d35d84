package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobox-ai/mobox/pkg/models"
	testdb "github.com/mobox-ai/mobox/test/database"
)

func TestSessionService_CreateAndGet(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.CreateSessionRequest{
		AgentID:   "hello-world",
		AgentName: "Hello World",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TitlePlaceholder, created.Title)
	assert.Equal(t, "hello-world", created.AgentID)
	assert.False(t, created.CreatedAt.IsZero())

	fetched, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "Hello World", fetched.AgentName)
}

func TestSessionService_CreateValidation(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)

	_, err := svc.Create(context.Background(), models.CreateSessionRequest{})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSessionService_GetNotFound(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)

	_, err := svc.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionService_ListOrdersByUpdatedAt(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	ctx := context.Background()

	first, err := svc.Create(ctx, models.CreateSessionRequest{AgentID: "a", Title: "first"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, models.CreateSessionRequest{AgentID: "a", Title: "second"})
	require.NoError(t, err)

	// Touching the first session moves it back to the top.
	require.NoError(t, svc.Touch(ctx, first.ID))

	sessions, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "first", sessions[0].Title)
	assert.Equal(t, "second", sessions[1].Title)
}

func TestSessionService_GetOrCreate(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	ctx := context.Background()

	t.Run("no id creates session titled from prompt", func(t *testing.T) {
		session, isNew, err := svc.GetOrCreate(ctx, "", "hello-world", "Hello World", "What is the weather like in Paris today?")
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, "What is the weather like in Paris today?", session.Title)
	})

	t.Run("long prompt is truncated with ellipsis", func(t *testing.T) {
		prompt := "This prompt is definitely longer than fifty characters in total length"
		session, _, err := svc.GetOrCreate(ctx, "", "hello-world", "", prompt)
		require.NoError(t, err)
		assert.Equal(t, models.TitleFromPrompt(prompt), session.Title)
		assert.Len(t, []rune(session.Title), 53)
	})

	t.Run("existing session is reused", func(t *testing.T) {
		created, _, err := svc.GetOrCreate(ctx, "", "hello-world", "", "original prompt")
		require.NoError(t, err)

		session, isNew, err := svc.GetOrCreate(ctx, created.ID, "other-agent", "", "follow up")
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, created.ID, session.ID)
		// Agent and title stay as they were.
		assert.Equal(t, "hello-world", session.AgentID)
		assert.Equal(t, "original prompt", session.Title)
	})

	t.Run("placeholder title is replaced on reuse", func(t *testing.T) {
		created, err := svc.Create(ctx, models.CreateSessionRequest{AgentID: "hello-world"})
		require.NoError(t, err)
		require.Equal(t, models.TitlePlaceholder, created.Title)

		session, isNew, err := svc.GetOrCreate(ctx, created.ID, "hello-world", "", "first real prompt")
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, "first real prompt", session.Title)
	})

	t.Run("unknown supplied id creates session under that id", func(t *testing.T) {
		id := uuid.NewString()
		session, isNew, err := svc.GetOrCreate(ctx, id, "hello-world", "", "prompt")
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.Equal(t, id, session.ID)
	})
}

func TestSessionService_Delete(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	messages := NewMessageService(pool)
	ctx := context.Background()

	session, err := svc.Create(ctx, models.CreateSessionRequest{AgentID: "a"})
	require.NoError(t, err)
	_, err = messages.AddUserMessage(ctx, session.ID, "hello")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, session.ID))

	_, err = svc.Get(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Messages cascade with the session.
	msgs, total, _, err := messages.ListMessages(ctx, session.ID, 30, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, total)

	assert.ErrorIs(t, svc.Delete(ctx, session.ID), ErrNotFound)
}

func TestSessionService_DeleteAll(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	ctx := context.Background()

	for range 3 {
		_, err := svc.Create(ctx, models.CreateSessionRequest{AgentID: "a"})
		require.NoError(t, err)
	}

	count, err := svc.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	sessions, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionService_Context(t *testing.T) {
	pool := testdb.NewTestPool(t)
	svc := NewSessionService(pool)
	committer := NewCommitter(pool)
	ctx := context.Background()

	session, err := svc.Create(ctx, models.CreateSessionRequest{AgentID: "hello-world", AgentName: "Hello"})
	require.NoError(t, err)

	require.NoError(t, committer.CommitAssistantTurn(session.ID, &StreamState{
		Text:  "turn one",
		Usage: models.UsageTotals{InputTokens: 100, OutputTokens: 40, TotalTokens: 140, CostUSD: 0.01},
	}))
	require.NoError(t, committer.CommitAssistantTurn(session.ID, &StreamState{
		Text:  "turn two",
		Usage: models.UsageTotals{InputTokens: 60, OutputTokens: 10, TotalTokens: 70, CostUSD: 0.005},
	}))

	got, totals, err := svc.Context(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, 160, totals.InputTokens)
	assert.Equal(t, 50, totals.OutputTokens)
	assert.Equal(t, 210, totals.TotalTokens)
	assert.InDelta(t, 0.015, totals.CostUSD, 1e-9)
}
