// Package retrieval 构建按文档划分的检索器：向量召回 → MMR 去冗余 → 可选的交叉编码器重排。
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/collection"
	"dodream-rag-go/pkg/embedding"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/rerank"
)

// Retriever 针对单个文档集合检索相关分块。
type Retriever interface {
	// Retrieve 返回用于回答问题的分块，顺序即相关性顺序。
	Retrieve(ctx context.Context, query string) ([]model.ScoredChunk, error)
	// SimilaritySearch 返回与 query 最相似的 k 个分块，不做 MMR 与重排。
	SimilaritySearch(ctx context.Context, query string, k int) ([]model.ScoredChunk, error)
}

// Builder 根据配置和可用模型组装检索器。
type Builder struct {
	models *provider.Services
	store  vectorstore.Store
	cfg    config.RetrievalConfig
}

// NewBuilder 创建 Builder，零值参数使用默认值。
func NewBuilder(models *provider.Services, store vectorstore.Store, cfg config.RetrievalConfig) *Builder {
	if cfg.K <= 0 {
		cfg.K = 10
	}
	if cfg.FetchK <= 0 {
		cfg.FetchK = 20
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if cfg.FallbackK <= 0 {
		cfg.FallbackK = 5
	}
	if cfg.FallbackFetchK <= 0 {
		cfg.FallbackFetchK = 15
	}
	if cfg.MMRLambda <= 0 || cfg.MMRLambda > 1 {
		cfg.MMRLambda = 0.5
	}
	return &Builder{models: models, store: store, cfg: cfg}
}

// Build 为 documentID 构建检索器。集合不存在或为空时返回 CollectionNotFound。
func (b *Builder) Build(ctx context.Context, documentID string) (Retriever, error) {
	name, err := collection.Name(documentID)
	if err != nil {
		return nil, err
	}
	embedder, err := b.models.Embedder()
	if err != nil {
		return nil, err
	}

	n, err := b.store.Count(ctx, name)
	if err != nil || n == 0 {
		if err != nil {
			log.Warnf("[Retriever] 探测集合 %s 失败: %v", name, err)
		}
		return nil, errs.New(errs.CollectionNotFound, "文档 %s 的集合 %s 不存在或为空", documentID, name).
			With("collection", name)
	}

	r := &retriever{
		collection: name,
		embedder:   embedder,
		store:      b.store,
		lambda:     b.cfg.MMRLambda,
	}
	if rr, ok := b.models.Reranker(); ok {
		r.reranker = rr
		r.k, r.fetchK, r.topN = b.cfg.K, b.cfg.FetchK, b.cfg.TopN
		log.Infof("[Retriever] 集合 %s 使用 MMR(k=%d, fetch_k=%d) + 重排(top_n=%d, model=%s)", name, r.k, r.fetchK, r.topN, rr.Model())
	} else {
		r.k, r.fetchK = b.cfg.FallbackK, b.cfg.FallbackFetchK
		log.Infof("[Retriever] 集合 %s 无可用重排模型, 使用 MMR(k=%d, fetch_k=%d)", name, r.k, r.fetchK)
	}
	return r, nil
}

type retriever struct {
	collection string
	embedder   embedding.Client
	store      vectorstore.Store
	reranker   rerank.Client
	k          int
	fetchK     int
	topN       int
	lambda     float64
}

func toScored(h vectorstore.Hit) model.ScoredChunk {
	return model.ScoredChunk{Chunk: h.Record.ToChunk(), Score: h.Score}
}

func (r *retriever) SimilaritySearch(ctx context.Context, query string, k int) ([]model.ScoredChunk, error) {
	qv, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	hits, err := r.store.Search(ctx, r.collection, qv, k)
	if err != nil {
		return nil, err
	}
	out := make([]model.ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = toScored(h)
	}
	return out, nil
}

func (r *retriever) Retrieve(ctx context.Context, query string) ([]model.ScoredChunk, error) {
	qv, err := r.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	hits, err := r.store.Search(ctx, r.collection, qv, r.fetchK)
	if err != nil {
		return nil, err
	}

	picked := MMR(qv, hits, r.k, r.lambda)
	candidates := make([]model.ScoredChunk, len(picked))
	for i, idx := range picked {
		candidates[i] = toScored(hits[idx])
	}
	log.Debugf("[Retriever] 召回 %d 个候选, MMR 选出 %d 个", len(hits), len(candidates))

	if r.reranker == nil {
		return candidates, nil
	}
	return r.rerank(ctx, query, candidates), nil
}

// rerank 按交叉编码器分数降序取前 topN，分数相同按 MMR 顺序。
// 重排服务调用失败时退化为 MMR 顺序的前 topN。
func (r *retriever) rerank(ctx context.Context, query string, candidates []model.ScoredChunk) []model.ScoredChunk {
	if len(candidates) == 0 {
		return candidates
	}
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}

	results, err := r.reranker.Rerank(ctx, query, docs)
	if err != nil {
		log.Warnf("[Retriever] 重排失败, 使用 MMR 顺序: %v", err)
		return head(candidates, r.topN)
	}

	scores := make(map[int]float64, len(results))
	for _, res := range results {
		scores[res.Index] = res.Score
	}
	order := make([]int, 0, len(candidates))
	for i := range candidates {
		if _, ok := scores[i]; ok {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]model.ScoredChunk, 0, r.topN)
	for _, i := range order {
		if len(out) == r.topN {
			break
		}
		c := candidates[i]
		c.Score = scores[i]
		out = append(out, c)
	}
	return out
}

func head(chunks []model.ScoredChunk, n int) []model.ScoredChunk {
	if len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
