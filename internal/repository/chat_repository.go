package repository

import (
	"context"
	"errors"
	"fmt"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/pkg/errs"

	"gorm.io/gorm"
)

// ChatRepository 定义了聊天会话与消息的持久化操作。
type ChatRepository interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	// GetSession 只返回属于该用户的会话，否则返回 NotFound。
	GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID uint, documentID string) ([]model.ChatSession, error)
	DeleteSession(ctx context.Context, userID uint, sessionID string) error
	AppendMessage(ctx context.Context, message *model.ChatMessage) error
	// ListMessages 按创建时间升序返回会话消息。
	ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	LastMessage(ctx context.Context, sessionID string) (*model.ChatMessage, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// AutoMigrate 创建或更新聊天相关的表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.ChatSession{}, &model.ChatMessage{})
}

func (r *chatRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	if session.Title == "" {
		session.Title = model.DefaultSessionTitle
	}
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create chat session: %w", err)
	}
	return nil
}

func (r *chatRepository) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.NotFound, "会话 %s 不存在", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return &session, nil
}

func (r *chatRepository) ListSessions(ctx context.Context, userID uint, documentID string) ([]model.ChatSession, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if documentID != "" {
		q = q.Where("document_id = ?", documentID)
	}
	var sessions []model.ChatSession
	if err := q.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession 删除会话及其全部消息。
func (r *chatRepository) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.New(errs.NotFound, "会话 %s 不存在", sessionID)
		}
		if err != nil {
			return fmt.Errorf("failed to get chat session: %w", err)
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		if err := tx.Delete(&session).Error; err != nil {
			return fmt.Errorf("failed to delete chat session: %w", err)
		}
		return nil
	})
}

func (r *chatRepository) AppendMessage(ctx context.Context, message *model.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

func (r *chatRepository) ListMessages(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return messages, nil
}

// LastMessage 返回会话的最后一条消息，会话为空时返回 nil。
func (r *chatRepository) LastMessage(ctx context.Context, sessionID string) (*model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get last chat message: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}
