// Package provider 在启动时按候选顺序初始化 embedding、LLM 与重排模型，
// 取每类中第一个探测成功的实例，并记录失败原因。
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/embedding"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/llm"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/rerank"
)

const probeTimeout = 15 * time.Second

// Services 是显式构造的模型服务上下文，创建后只读，可被并发使用。
type Services struct {
	embedder     embedding.Client
	embedderErrs []string
	llm          llm.Client
	llmErrs      []string
	reranker     rerank.Client
	rerankerErrs []string
}

// Factories 构造具体客户端，测试中可替换。
type Factories struct {
	Embedder func(config.ModelEndpoint) embedding.Client
	LLM      func(config.ModelEndpoint) llm.Client
	Reranker func(config.ModelEndpoint) rerank.Client
}

// DefaultFactories 返回基于 HTTP 的默认实现。
func DefaultFactories(cfg config.Config) Factories {
	return Factories{
		Embedder: func(ep config.ModelEndpoint) embedding.Client {
			return embedding.NewClient(ep, embedding.WithRateLimit(cfg.Embedding.RequestsPerSecond))
		},
		LLM: func(ep config.ModelEndpoint) llm.Client {
			return llm.NewClient(ep, cfg.LLM.Generation)
		},
		Reranker: rerank.NewClient,
	}
}

// Init 使用默认实现初始化服务上下文。
func Init(ctx context.Context, cfg config.Config) *Services {
	return New(ctx, cfg, DefaultFactories(cfg))
}

// New 依次探测每类模型的候选项。
func New(ctx context.Context, cfg config.Config, f Factories) *Services {
	s := &Services{}

	s.embedder, s.embedderErrs = pick(ctx, "embedding", cfg.Embedding.Candidates, func(ctx context.Context, ep config.ModelEndpoint) (embedding.Client, error) {
		c := f.Embedder(ep)
		_, err := c.CreateEmbedding(ctx, "ping")
		return c, err
	})
	s.llm, s.llmErrs = pick(ctx, "llm", cfg.LLM.Candidates, func(ctx context.Context, ep config.ModelEndpoint) (llm.Client, error) {
		c := f.LLM(ep)
		maxTokens := 1
		_, err := c.Chat(ctx, []llm.Message{{Role: "user", Content: "ping"}}, &llm.GenerationParams{MaxTokens: &maxTokens})
		return c, err
	})
	s.reranker, s.rerankerErrs = pick(ctx, "reranker", cfg.Reranker.Candidates, func(ctx context.Context, ep config.ModelEndpoint) (rerank.Client, error) {
		c := f.Reranker(ep)
		_, err := c.Rerank(ctx, "ping", []string{"ping"})
		return c, err
	})
	return s
}

// Static 直接使用给定的客户端，nil 表示该类模型不可用。
func Static(e embedding.Client, l llm.Client, r rerank.Client) *Services {
	s := &Services{embedder: e, llm: l, reranker: r}
	if e == nil {
		s.embedderErrs = []string{"未配置"}
	}
	if l == nil {
		s.llmErrs = []string{"未配置"}
	}
	return s
}

func pick[T any](ctx context.Context, kind string, candidates []config.ModelEndpoint, probe func(context.Context, config.ModelEndpoint) (T, error)) (T, []string) {
	var zero T
	var failures []string
	for i, ep := range candidates {
		name := ep.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d(%s)", kind, i, ep.Model)
		}
		if ep.BaseURL == "" {
			failures = append(failures, fmt.Sprintf("%s: base_url 为空", name))
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		c, err := probe(pctx, ep)
		cancel()
		if err != nil {
			log.Warnf("[Provider] %s 候选 '%s' 初始化失败: %v", kind, name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		log.Infof("[Provider] %s 使用候选 '%s', model: %s", kind, name, ep.Model)
		return c, failures
	}
	if len(candidates) == 0 {
		failures = append(failures, "没有配置候选项")
	}
	log.Warnf("[Provider] %s 没有可用的候选项", kind)
	return zero, failures
}

// Embedder 返回可用的 embedding 客户端。
func (s *Services) Embedder() (embedding.Client, error) {
	if s.embedder == nil {
		return nil, unavailable("embedding", s.embedderErrs)
	}
	return s.embedder, nil
}

// LLM 返回可用的聊天模型客户端。
func (s *Services) LLM() (llm.Client, error) {
	if s.llm == nil {
		return nil, unavailable("llm", s.llmErrs)
	}
	return s.llm, nil
}

// Reranker 返回重排客户端；没有可用的重排模型时 ok 为 false，检索退化为纯 MMR。
func (s *Services) Reranker() (rerank.Client, bool) {
	return s.reranker, s.reranker != nil
}

func unavailable(kind string, failures []string) error {
	return errs.New(errs.ModelUnavailable, "%s 模型不可用", kind).
		With("failures", strings.Join(failures, "; "))
}
