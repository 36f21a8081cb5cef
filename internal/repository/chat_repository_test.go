package repository

import (
	"context"
	"testing"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/pkg/database"
	"dodream-rag-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatRepo(t *testing.T) ChatRepository {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewChatRepository(db)
}

func TestChatRepository_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newChatRepo(t)

	s := &model.ChatSession{ID: "s1", UserID: 7, DocumentID: "doc1"}
	require.NoError(t, repo.CreateSession(ctx, s))
	assert.Equal(t, model.DefaultSessionTitle, s.Title)

	got, err := repo.GetSession(ctx, 7, "s1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", got.DocumentID)

	_, err = repo.GetSession(ctx, 8, "s1")
	assert.True(t, errs.Is(err, errs.NotFound))

	base := time.Now()
	for i, m := range []model.ChatMessage{
		{SessionID: "s1", Role: model.RoleUser, Content: "q1", CreatedAt: base},
		{SessionID: "s1", Role: model.RoleAssistant, Content: "a1", CreatedAt: base.Add(time.Second)},
		{SessionID: "s1", Role: model.RoleUser, Content: "q2", CreatedAt: base.Add(2 * time.Second)},
	} {
		msg := m
		require.NoError(t, repo.AppendMessage(ctx, &msg), "message %d", i)
	}

	msgs, err := repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"q1", "a1", "q2"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	last, err := repo.LastMessage(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "q2", last.Content)

	assert.True(t, errs.Is(repo.DeleteSession(ctx, 8, "s1"), errs.NotFound))
	require.NoError(t, repo.DeleteSession(ctx, 7, "s1"))

	msgs, err = repo.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = repo.GetSession(ctx, 7, "s1")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestChatRepository_ListSessionsFilters(t *testing.T) {
	ctx := context.Background()
	repo := newChatRepo(t)

	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{ID: "a", UserID: 1, DocumentID: "d1"}))
	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{ID: "b", UserID: 1, DocumentID: "d2"}))
	require.NoError(t, repo.CreateSession(ctx, &model.ChatSession{ID: "c", UserID: 2, DocumentID: "d1"}))

	all, err := repo.ListSessions(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	d1, err := repo.ListSessions(ctx, 1, "d1")
	require.NoError(t, err)
	require.Len(t, d1, 1)
	assert.Equal(t, "a", d1[0].ID)

	last, err := repo.LastMessage(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, last)
}
