package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"dodream-rag-go/internal/service"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责问答与会话管理的请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type chatRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	Question   string `json:"question" binding:"required"`
	SessionID  string `json:"session_id"`
}

// Chat 处理一次问答。
func (h *ChatHandler) Chat(c *gin.Context) {
	userID, found := currentUser(c)
	if !found {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数无效: "+err.Error())
		return
	}
	reply, err := h.chatService.Chat(c.Request.Context(), userID, req.DocumentID, req.Question, req.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "success", reply)
}

// ListSessions 返回当前用户的会话列表，可按 document_id 过滤。
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID, found := currentUser(c)
	if !found {
		return
	}
	sessions, err := h.chatService.ListSessions(c.Request.Context(), userID, c.Query("document_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "获取会话列表成功", sessions)
}

// GetSession 返回会话详情及全部消息。
func (h *ChatHandler) GetSession(c *gin.Context) {
	userID, found := currentUser(c)
	if !found {
		return
	}
	session, err := h.chatService.GetSession(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "获取会话成功", session)
}

// DeleteSession 删除会话及其消息。
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	userID, found := currentUser(c)
	if !found {
		return
	}
	if err := h.chatService.DeleteSession(c.Request.Context(), userID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "删除会话成功", nil)
}

// wsConn 串行化对连接的写入，读循环与生成协程都会写。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteMessage(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = w.WriteMessage(websocket.TextMessage, b)
}

type streamFrame struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	SessionID  string `json:"session_id"`
}

// Stream 处理 WebSocket 流式问答。每个问题帧的回答以 {"chunk"} 帧下发，
// 结束时发送 completion 帧；{"type":"stop"} 帧停止下发当前回答。
func (h *ChatHandler) Stream(c *gin.Context) {
	userID, found := currentUser(c)
	if !found {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[ChatHandler] WebSocket 连接已建立, 用户: %d", userID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	ws := &wsConn{conn: conn}
	var (
		busy    atomic.Bool
		stopped atomic.Bool
		wg      sync.WaitGroup
	)
	// 读循环退出（客户端断开）时先取消生成，再等待协程结束
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			ws.writeJSON(gin.H{"type": "error", "error": "消息格式错误", "error_kind": errs.EmptyInput})
			continue
		}
		if frame.Type == "stop" {
			stopped.Store(true)
			ws.writeJSON(gin.H{"type": "stop", "message": "响应已停止", "timestamp": time.Now().UnixMilli()})
			continue
		}
		if frame.DocumentID == "" || frame.Question == "" {
			ws.writeJSON(gin.H{"type": "error", "error": "document_id 和 question 不能为空", "error_kind": errs.EmptyInput})
			continue
		}
		if !busy.CompareAndSwap(false, true) {
			ws.writeJSON(gin.H{"type": "error", "error": "上一个回答尚未完成", "error_kind": errs.EmptyInput})
			continue
		}
		stopped.Store(false)

		wg.Add(1)
		go func(frame streamFrame) {
			defer wg.Done()
			defer busy.Store(false)
			reply, err := h.chatService.StreamChat(ctx, userID, frame.DocumentID, frame.Question, frame.SessionID, ws, stopped.Load)
			if err != nil {
				log.Errorf("[ChatHandler] 处理流式响应失败: %v", err)
				ws.writeJSON(gin.H{"type": "error", "error": errs.Snippet(err, errorSnippetRunes), "error_kind": errs.KindOf(err)})
			}
			sendCompletion(ws, reply.SessionID)
		}(frame)
	}
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *wsConn, sessionID string) {
	ws.writeJSON(gin.H{
		"type":       "completion",
		"status":     "finished",
		"message":    "响应已完成",
		"session_id": sessionID,
		"timestamp":  time.Now().UnixMilli(),
		"date":       time.Now().Format("2006-01-02T15:04:05"),
	})
}
