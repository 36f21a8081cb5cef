// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/repository"
	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/log"

	"github.com/google/uuid"
)

const previewRunes = 50

// ChatReply 是一次问答的返回。
type ChatReply struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

// ChatService 定义了会话式问答与会话管理的接口。
type ChatService interface {
	Chat(ctx context.Context, userID uint, documentID, question, sessionID string) (ChatReply, error)
	// StreamChat 与 Chat 相同，但把回答分块以 {"chunk": "..."} 写入 writer。
	StreamChat(ctx context.Context, userID uint, documentID, question, sessionID string, writer llm.MessageWriter, shouldStop func() bool) (ChatReply, error)
	ListSessions(ctx context.Context, userID uint, documentID string) ([]model.SessionSummary, error)
	GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error)
	DeleteSession(ctx context.Context, userID uint, sessionID string) error
}

type chatService struct {
	chains *ChainFactory
	repo   repository.ChatRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chains *ChainFactory, repo repository.ChatRepository) ChatService {
	return &chatService{chains: chains, repo: repo}
}

func (s *chatService) Chat(ctx context.Context, userID uint, documentID, question, sessionID string) (ChatReply, error) {
	return s.run(ctx, userID, documentID, question, sessionID, func(chain *Chain, history []model.ChatMessage) (ChainResult, error) {
		return chain.Answer(ctx, question, history)
	})
}

func (s *chatService) StreamChat(ctx context.Context, userID uint, documentID, question, sessionID string, writer llm.MessageWriter, shouldStop func() bool) (ChatReply, error) {
	interceptor := &wsWriterInterceptor{next: writer, shouldStop: shouldStop}
	return s.run(ctx, userID, documentID, question, sessionID, func(chain *Chain, history []model.ChatMessage) (ChainResult, error) {
		return chain.Stream(ctx, question, history, interceptor)
	})
}

// run 是问答主流程：加载或创建会话 → 读取历史 → 记录用户消息 → 调用问答链 → 记录回答。
// 各步骤不在同一个事务里。
func (s *chatService) run(ctx context.Context, userID uint, documentID, question, sessionID string, invoke func(*Chain, []model.ChatMessage) (ChainResult, error)) (ChatReply, error) {
	var history []model.ChatMessage
	if sessionID != "" {
		if _, err := s.repo.GetSession(ctx, userID, sessionID); err != nil {
			return ChatReply{}, err
		}
		msgs, err := s.repo.ListMessages(ctx, sessionID)
		if err != nil {
			return ChatReply{}, fmt.Errorf("加载会话历史失败: %w", err)
		}
		history = msgs
	} else {
		session := &model.ChatSession{ID: uuid.NewString(), UserID: userID, DocumentID: documentID}
		if err := s.repo.CreateSession(ctx, session); err != nil {
			return ChatReply{}, fmt.Errorf("创建会话失败: %w", err)
		}
		sessionID = session.ID
		log.Infof("[ChatService] 为用户 %d 创建会话 %s, documentID: %s", userID, sessionID, documentID)
	}

	if err := s.repo.AppendMessage(ctx, &model.ChatMessage{SessionID: sessionID, Role: model.RoleUser, Content: question}); err != nil {
		return ChatReply{}, fmt.Errorf("保存用户消息失败: %w", err)
	}

	chain, err := s.chains.Chain(ctx, documentID)
	if err != nil {
		return ChatReply{SessionID: sessionID}, err
	}
	res, err := invoke(chain, history)
	if err != nil {
		log.Errorf("[ChatService] 问答失败, session: %s, error: %v", sessionID, err)
		return ChatReply{SessionID: sessionID}, err
	}

	// 使用后台上下文，即使请求已取消也保存已生成的回答
	if err := s.repo.AppendMessage(context.Background(), &model.ChatMessage{SessionID: sessionID, Role: model.RoleAssistant, Content: res.Answer}); err != nil {
		log.Errorf("[ChatService] 保存回答失败, session: %s, error: %v", sessionID, err)
		return ChatReply{SessionID: sessionID}, fmt.Errorf("保存回答失败: %w", err)
	}
	return ChatReply{Answer: res.Answer, SessionID: sessionID}, nil
}

func (s *chatService) ListSessions(ctx context.Context, userID uint, documentID string) ([]model.SessionSummary, error) {
	sessions, err := s.repo.ListSessions(ctx, userID, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summary := model.SessionSummary{
			ID:           sess.ID,
			DocumentID:   sess.DocumentID,
			SessionTitle: sess.Title,
			CreatedAt:    model.LocalTime(sess.CreatedAt),
		}
		last, err := s.repo.LastMessage(ctx, sess.ID)
		if err != nil {
			log.Warnf("[ChatService] 读取会话 %s 的最后一条消息失败: %v", sess.ID, err)
		} else if last != nil {
			summary.LastMessagePreview = preview(last.Content)
		}
		out = append(out, summary)
	}
	return out, nil
}

func (s *chatService) GetSession(ctx context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	session, err := s.repo.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("加载会话消息失败: %w", err)
	}
	for i := range msgs {
		msgs[i].Role = msgs[i].NormalizedRole()
	}
	session.Messages = msgs
	return session, nil
}

func (s *chatService) DeleteSession(ctx context.Context, userID uint, sessionID string) error {
	if err := s.repo.DeleteSession(ctx, userID, sessionID); err != nil {
		return err
	}
	log.Infof("[ChatService] 用户 %d 删除了会话 %s", userID, sessionID)
	return nil
}

func preview(content string) string {
	content = strings.TrimSpace(content)
	r := []rune(content)
	if len(r) <= previewRunes {
		return content
	}
	return string(r[:previewRunes]) + "..."
}

// wsWriterInterceptor 把原始分块包装成 {"chunk":"..."} 再下发。
type wsWriterInterceptor struct {
	next       llm.MessageWriter
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	b, err := json.Marshal(map[string]string{"chunk": string(data)})
	if err != nil {
		return err
	}
	return w.next.WriteMessage(messageType, b)
}
