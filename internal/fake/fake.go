// Package fake 提供测试用的模型客户端替身。
package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/rerank"

	"github.com/gorilla/websocket"
)

// Dims 是 Embedder 输出的向量维度。
const Dims = 64

// Embedder 用字符二元组哈希生成确定性的向量，文本越相近向量越相近。
type Embedder struct {
	mu    sync.Mutex
	Err   error
	Calls int
	Texts []string
}

func (e *Embedder) Model() string { return "fake-embedding" }

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	v, err := e.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *Embedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.Texts = append(e.Texts, texts...)
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t)
	}
	return out, nil
}

// Vector 返回 text 的确定性单位向量。
func Vector(text string) []float32 {
	v := make([]float32, Dims)
	runes := []rune(strings.ToLower(text))
	if len(runes) == 1 {
		runes = append(runes, ' ')
	}
	for i := 0; i+1 < len(runes); i++ {
		h := fnv.New32a()
		_, _ = h.Write([]byte(string(runes[i : i+2])))
		v[h.Sum32()%Dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// LLM 按 Reply 回复，并记录每次调用的消息。
type LLM struct {
	mu    sync.Mutex
	Reply func(messages []llm.Message) (string, error)
	Calls [][]llm.Message
}

// ErrScripted 是脚本化失败使用的错误。
var ErrScripted = errors.New("scripted failure")

func (l *LLM) Model() string { return "fake-llm" }

func (l *LLM) Chat(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	l.mu.Lock()
	l.Calls = append(l.Calls, append([]llm.Message(nil), messages...))
	reply := l.Reply
	l.mu.Unlock()
	if reply == nil {
		return "", nil
	}
	return reply(messages)
}

func (l *LLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, w llm.MessageWriter) error {
	out, err := l.Chat(ctx, messages, gen)
	if err != nil {
		return err
	}
	runes := []rune(out)
	mid := len(runes) / 2
	for _, part := range []string{string(runes[:mid]), string(runes[mid:])} {
		if part == "" {
			continue
		}
		if err := w.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
			return err
		}
	}
	return nil
}

// CallCount 返回 Chat 被调用的次数。
func (l *LLM) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Calls)
}

// Reranker 按 Score 给文档打分。
type Reranker struct {
	Score func(query, doc string) float64
	Err   error
}

func (r *Reranker) Model() string { return "fake-reranker" }

func (r *Reranker) Rerank(_ context.Context, query string, docs []string) ([]rerank.Result, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := make([]rerank.Result, len(docs))
	for i, d := range docs {
		s := 0.0
		if r.Score != nil {
			s = r.Score(query, d)
		}
		out[i] = rerank.Result{Index: i, Score: s}
	}
	return out, nil
}

// LastUserContent 返回消息序列中最后一条 user 消息的内容。
func LastUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
