package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/repository"
	"dodream-rag-go/internal/service"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/tasks"
	"dodream-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueued struct {
	name, key string
	args      map[string]string
}

type stubQueue struct{ got []enqueued }

func (q *stubQueue) Enqueue(_ context.Context, name, key string, args map[string]string) (string, error) {
	q.got = append(q.got, enqueued{name, key, args})
	return "task-1", nil
}

type stubChat struct {
	service.ChatService
	lastUser uint
	// 问题为 "대기" 时 StreamChat 阻塞到 ctx 取消
	started   chan struct{}
	cancelled chan struct{}
}

func (s *stubChat) Chat(_ context.Context, userID uint, documentID, question, sessionID string) (service.ChatReply, error) {
	s.lastUser = userID
	if documentID == "ghost" {
		return service.ChatReply{}, errs.New(errs.CollectionNotFound, "문서 %s 없음", documentID)
	}
	if sessionID == "" {
		sessionID = "new-session"
	}
	return service.ChatReply{Answer: "답: " + question, SessionID: sessionID}, nil
}

func (s *stubChat) StreamChat(ctx context.Context, _ uint, _, question, _ string, w llm.MessageWriter, _ func() bool) (service.ChatReply, error) {
	if question == "대기" {
		close(s.started)
		<-ctx.Done()
		close(s.cancelled)
		return service.ChatReply{}, ctx.Err()
	}
	for _, part := range []string{"답", ": ", question} {
		b, _ := json.Marshal(map[string]string{"chunk": part})
		if err := w.WriteMessage(websocket.TextMessage, b); err != nil {
			return service.ChatReply{}, err
		}
	}
	return service.ChatReply{Answer: "답: " + question, SessionID: "ws-session"}, nil
}

func (s *stubChat) GetSession(_ context.Context, userID uint, sessionID string) (*model.ChatSession, error) {
	if userID != 7 {
		return nil, errs.New(errs.NotFound, "세션 %s 없음", sessionID)
	}
	return &model.ChatSession{ID: sessionID, UserID: userID}, nil
}

type stubQuiz struct{ count int }

func (s *stubQuiz) Generate(_ context.Context, _ string, count int) ([]model.Question, error) {
	s.count = count
	return []model.Question{{QuestionType: model.ShortAnswer, Content: "q", CorrectAnswer: "a"}}, nil
}

func (s *stubQuiz) Grade(_ context.Context, questions []model.GradeQuestion, answers []model.StudentAnswer) ([]model.GradingResult, error) {
	out := make([]model.GradingResult, len(answers))
	for i, a := range answers {
		out[i] = model.GradingResult{QuestionID: a.QuestionID, IsCorrect: i == 0}
	}
	return out, nil
}

type fixture struct {
	engine   *gin.Engine
	verifier *token.Verifier
	queue    *stubQueue
	tasks    *repository.MemoryTaskRepository
	chat     *stubChat
	quiz     *stubQuiz
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := token.NewVerifier("test-secret", false, "dodream")
	require.NoError(t, err)
	f := &fixture{
		engine:   gin.New(),
		verifier: v,
		queue:    &stubQueue{},
		tasks:    repository.NewMemoryTaskRepository(),
		chat:     &stubChat{started: make(chan struct{}), cancelled: make(chan struct{})},
		quiz:     &stubQuiz{},
	}
	RegisterRoutes(f.engine, v, Handlers{
		RAG:  NewRAGHandler(f.queue, f.tasks),
		Chat: NewChatHandler(f.chat),
		Quiz: NewQuizHandler(f.quiz),
	})
	return f
}

func (f *fixture) token(t *testing.T, userID uint, role string) string {
	t.Helper()
	s, err := f.verifier.Sign(userID, role, time.Hour)
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodPost, "/api/v1/rag/chat", "", map[string]string{"document_id": "d", "question": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/chat", "garbage", map[string]string{"document_id": "d", "question": "q"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateEmbedding_RequiresTeacher(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"document_id": "doc-1", "s3_url": "https://cdn.example.com/doc-1.json"}

	w, _ := f.do(t, http.MethodPost, "/api/v1/rag/embeddings", f.token(t, 1, "STUDENT"), body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.queue.got)

	w, resp := f.do(t, http.MethodPost, "/api/v1/rag/embeddings", f.token(t, 1, "TEACHER"), body)
	require.Equal(t, http.StatusAccepted, w.Code)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "accepted", data["status"])
	assert.Equal(t, "task-1", data["task_handle"])
	require.Len(t, f.queue.got, 1)
	assert.Equal(t, tasks.CreateEmbedding, f.queue.got[0].name)
	assert.Equal(t, "doc-1", f.queue.got[0].key)

	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/embeddings/initial", f.token(t, 1, "TEACHER"), map[string]string{"pdf_id": "42", "s3_url": "s3://bucket/42.json"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, tasks.CreateInitialEmbedding, f.queue.got[1].name)
	assert.Equal(t, "pdf_42", f.queue.got[1].key)

	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/embeddings", f.token(t, 1, "TEACHER"), map[string]string{"document_id": "doc-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTask(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, 1, "STUDENT")

	w, resp := f.do(t, http.MethodGet, "/api/v1/rag/tasks/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(errs.NotFound), resp["error_kind"])

	require.NoError(t, f.tasks.Save(context.Background(), tasks.Status{ID: "t1", Name: tasks.CreateEmbedding, State: tasks.Success}))
	w, resp = f.do(t, http.MethodGet, "/api/v1/rag/tasks/t1", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", resp["data"].(map[string]any)["status"])
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, 7, "STUDENT")

	w, resp := f.do(t, http.MethodPost, "/api/v1/rag/chat", tok, map[string]string{"document_id": "doc1", "question": "안녕?"})
	require.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]any)
	assert.Equal(t, "답: 안녕?", data["answer"])
	assert.Equal(t, "new-session", data["session_id"])
	assert.EqualValues(t, 7, f.chat.lastUser)

	w, resp = f.do(t, http.MethodPost, "/api/v1/rag/chat", tok, map[string]string{"document_id": "ghost", "question": "q"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(errs.CollectionNotFound), resp["error_kind"])

	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/chat", tok, map[string]string{"document_id": "doc1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSession_OwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(t, http.MethodGet, "/api/v1/rag/sessions/s1", f.token(t, 7, "STUDENT"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := f.do(t, http.MethodGet, "/api/v1/rag/sessions/s1", f.token(t, 8, "STUDENT"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(errs.NotFound), resp["error_kind"])
}

func TestQuiz(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, 1, "STUDENT")

	w, _ := f.do(t, http.MethodPost, "/api/v1/rag/quiz/generate", tok, map[string]any{"document_id": "doc1", "count": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/quiz/generate", tok, map[string]any{"document_id": "doc1", "count": 21})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/rag/quiz/generate", tok, map[string]any{"document_id": "doc1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultQuizCount, f.quiz.count)

	w, resp := f.do(t, http.MethodPost, "/api/v1/rag/quiz/grade", tok, map[string]any{
		"questions": []map[string]any{{"id": 1, "content": "q1", "correct_answer": "a"}, {"id": "2", "content": "q2", "correct_answer": "b"}},
		"answers":   []map[string]any{{"question_id": "1", "student_answer": "a"}, {"question_id": 2, "student_answer": "x"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := resp["data"].(map[string]any)
	assert.EqualValues(t, 2, data["total"])
	assert.EqualValues(t, 1, data["correct"])
	results := data["results"].([]any)
	assert.EqualValues(t, 1, results[0].(map[string]any)["question_id"])
}

func TestFail_TruncatesMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fail(c, errs.New(errs.DownloadFailed, "%s", strings.Repeat("x", 500)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.LessOrEqual(t, len([]rune(resp["message"].(string))), errorSnippetRunes+1)
	assert.Equal(t, string(errs.DownloadFailed), resp["error_kind"])
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rag/chat/stream?token=" + f.token(t, 7, "STUDENT")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"document_id": "doc1", "question": "안녕"}))

	var answer strings.Builder
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if chunk, found := frame["chunk"]; found {
			answer.WriteString(chunk.(string))
			continue
		}
		assert.Equal(t, "completion", frame["type"])
		assert.Equal(t, "ws-session", frame["session_id"])
		break
	}
	assert.Equal(t, "답: 안녕", answer.String())
}

func TestStream_DisconnectCancelsGeneration(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/rag/chat/stream?token=" + f.token(t, 7, "STUDENT")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(map[string]string{"document_id": "doc1", "question": "대기"}))
	select {
	case <-f.chat.started:
	case <-time.After(5 * time.Second):
		t.Fatal("生成未开始")
	}

	require.NoError(t, conn.Close())
	select {
	case <-f.chat.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("客户端断开后生成未被取消")
	}
}
