package service

import (
	"context"
	"fmt"
	"strings"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/retrieval"
	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/log"
)

// RetrieverBuilder 为文档构建检索器。
type RetrieverBuilder interface {
	Build(ctx context.Context, documentID string) (retrieval.Retriever, error)
}

// ChainResult 是一次问答的结果。
type ChainResult struct {
	Answer          string
	StandaloneQuery string
	Context         []model.Chunk
}

// ChainFactory 按文档组装对话式检索问答链。
type ChainFactory struct {
	models    *provider.Services
	retrieval RetrieverBuilder
}

// NewChainFactory 创建 ChainFactory。
func NewChainFactory(models *provider.Services, builder RetrieverBuilder) *ChainFactory {
	return &ChainFactory{models: models, retrieval: builder}
}

// Chain 为 documentID 构建问答链。集合不存在时返回 CollectionNotFound，模型不可用时返回 ModelUnavailable。
func (f *ChainFactory) Chain(ctx context.Context, documentID string) (*Chain, error) {
	client, err := f.models.LLM()
	if err != nil {
		return nil, err
	}
	r, err := f.retrieval.Build(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &Chain{documentID: documentID, llm: client, retriever: r}, nil
}

// Chain 绑定到单个文档：改写问题 → 检索 → 生成回答。
type Chain struct {
	documentID string
	llm        llm.Client
	retriever  retrieval.Retriever
}

// Answer 根据历史对话回答问题。
func (c *Chain) Answer(ctx context.Context, question string, history []model.ChatMessage) (ChainResult, error) {
	res, messages, err := c.prepare(ctx, question, history)
	if err != nil {
		return res, err
	}
	answer, err := c.llm.Chat(ctx, messages, nil)
	if err != nil {
		return res, fmt.Errorf("生成回答失败: %w", err)
	}
	res.Answer = strings.TrimSpace(answer)
	log.Infof("[RAGChain] 文档 %s 回答完成, 上下文 %d 段", c.documentID, len(res.Context))
	return res, nil
}

// Stream 与 Answer 相同，但把生成的分块写入 writer，返回的 Answer 为完整拼接结果。
func (c *Chain) Stream(ctx context.Context, question string, history []model.ChatMessage, writer llm.MessageWriter) (ChainResult, error) {
	res, messages, err := c.prepare(ctx, question, history)
	if err != nil {
		return res, err
	}
	capture := &captureWriter{next: writer}
	if err := c.llm.StreamChatMessages(ctx, messages, nil, capture); err != nil {
		return res, fmt.Errorf("流式生成回答失败: %w", err)
	}
	res.Answer = strings.TrimSpace(capture.buf.String())
	return res, nil
}

// prepare 完成改写与检索，返回用于生成回答的消息序列。
func (c *Chain) prepare(ctx context.Context, question string, history []model.ChatMessage) (ChainResult, []llm.Message, error) {
	var res ChainResult

	query, err := c.rewrite(ctx, question, history)
	if err != nil {
		return res, nil, err
	}
	res.StandaloneQuery = query

	chunks, err := c.retriever.Retrieve(ctx, query)
	if err != nil {
		return res, nil, fmt.Errorf("检索上下文失败: %w", err)
	}
	res.Context = make([]model.Chunk, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		res.Context[i] = ch.Chunk
		texts[i] = ch.Text
	}
	log.Debugf("[RAGChain] 独立问题: %q, 检索到 %d 段", query, len(chunks))

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: model.RoleSystem, Content: answerSystemPrompt + strings.Join(texts, "\n\n")})
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: model.RoleUser, Content: question})
	return res, messages, nil
}

// rewrite 结合历史把问题改写为独立的检索问题。历史为空时原样返回。
func (c *Chain) rewrite(ctx context.Context, question string, history []model.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}
	messages := historyMessages(history)
	messages = append(messages,
		llm.Message{Role: model.RoleUser, Content: question},
		llm.Message{Role: model.RoleUser, Content: rephraseInstruction},
	)
	out, err := c.llm.Chat(ctx, messages, nil)
	if err != nil {
		return "", fmt.Errorf("改写问题失败: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		log.Warnf("[RAGChain] 改写结果为空, 使用原问题")
		return question, nil
	}
	return out, nil
}

func historyMessages(history []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{Role: m.NormalizedRole(), Content: m.Content})
	}
	return out
}

// captureWriter 在转发分块的同时累积完整回答。
type captureWriter struct {
	next llm.MessageWriter
	buf  strings.Builder
}

func (w *captureWriter) WriteMessage(messageType int, data []byte) error {
	w.buf.Write(data)
	return w.next.WriteMessage(messageType, data)
}
