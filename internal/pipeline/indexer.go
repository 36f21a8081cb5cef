package pipeline

import (
	"context"
	"fmt"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/collection"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"

	"golang.org/x/sync/errgroup"
)

// Indexer 将分块向量化并整体替换文档对应的集合。
type Indexer struct {
	models      *provider.Services
	store       vectorstore.Store
	batchSize   int
	concurrency int
}

// NewIndexer 创建 Indexer。batchSize/concurrency 非正数时取 16/4。
func NewIndexer(models *provider.Services, store vectorstore.Store, batchSize, concurrency int) *Indexer {
	if batchSize <= 0 {
		batchSize = 16
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Indexer{models: models, store: store, batchSize: batchSize, concurrency: concurrency}
}

// Build 为 documentID 构建索引并返回集合名。
// 先完成全部向量化，再删除旧集合、写入新记录，向量化失败不会留下空集合。
func (ix *Indexer) Build(ctx context.Context, documentID string, chunks []model.Chunk) (string, error) {
	name, err := collection.Name(documentID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", errs.New(errs.EmptyInput, "文档 %s 没有可索引的分块", documentID)
	}
	embedder, err := ix.models.Embedder()
	if err != nil {
		return "", err
	}

	log.Infof("[Indexer] 步骤1: 开始向量化, collection: %s, 分块数: %d, batch: %d", name, len(chunks), ix.batchSize)
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for start := 0; start < len(chunks); start += ix.batchSize {
		start := start
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Text)
			}
			vecs, err := embedder.CreateEmbeddings(gctx, texts)
			if err != nil {
				return fmt.Errorf("分块 %d-%d 向量化失败: %w", start, end-1, err)
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[Indexer] 向量化失败, collection: %s, error: %v", name, err)
		return "", err
	}

	records := make([]model.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = model.VectorRecord{
			VectorID:     fmt.Sprintf("%s_%d", name, i),
			Collection:   name,
			ChunkIndex:   i,
			TextContent:  c.Text,
			Vector:       vectors[i],
			Metadata:     c.Meta,
			ModelVersion: embedder.Model(),
		}
	}

	log.Infof("[Indexer] 步骤2: 清空旧集合 %s", name)
	if err := ix.store.DeleteCollection(ctx, name); err != nil {
		return "", fmt.Errorf("清空集合 %s 失败: %w", name, err)
	}
	log.Infof("[Indexer] 步骤3: 写入 %d 条记录到集合 %s", len(records), name)
	if err := ix.store.Upsert(ctx, name, records); err != nil {
		return "", fmt.Errorf("写入集合 %s 失败: %w", name, err)
	}
	log.Infof("[Indexer] 集合 %s 构建完成", name)
	return name, nil
}
