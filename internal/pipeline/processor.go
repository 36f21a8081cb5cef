// Package pipeline 定义了教材入库的核心流程：下载 → 抽取 → 切块 → 向量化 → 写入集合。
package pipeline

import (
	"context"
	"fmt"

	"dodream-rag-go/internal/chunker"
	"dodream-rag-go/internal/extractor"
	"dodream-rag-go/pkg/collection"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/tasks"
)

// JSONFetcher 下载并解码 JSON。
type JSONFetcher interface {
	FetchJSON(ctx context.Context, rawURL string) (any, error)
}

// Processor 封装了入库处理的所有依赖和逻辑。
type Processor struct {
	fetcher JSONFetcher
	chunker *chunker.Chunker
	indexer *Indexer
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(fetcher JSONFetcher, chunker *chunker.Chunker, indexer *Indexer) *Processor {
	return &Processor{fetcher: fetcher, chunker: chunker, indexer: indexer}
}

// Process 是入库处理的主函数，一次调用即一次完整尝试，重试由调用方负责。
func (p *Processor) Process(ctx context.Context, documentID, sourceURL string) (tasks.IngestionResult, error) {
	log.Infof("[Processor] 开始处理文档, documentID: %s", documentID)
	if _, err := collection.Name(documentID); err != nil {
		return tasks.IngestionResult{}, err
	}

	log.Info("[Processor] 步骤1: 下载结构化 JSON")
	raw, err := p.fetcher.FetchJSON(ctx, sourceURL)
	if err != nil {
		log.Errorf("[Processor] 下载失败, documentID: %s, error: %v", documentID, err)
		return tasks.IngestionResult{}, err
	}

	log.Info("[Processor] 步骤2: 抽取内容单元")
	units, err := extractor.ExtractValue(raw)
	if err != nil {
		log.Errorf("[Processor] 抽取失败, documentID: %s, error: %v", documentID, err)
		return tasks.IngestionResult{}, err
	}
	if len(units) == 0 {
		log.Warnf("[Processor] 未抽取到任何内容, 处理中止, documentID: %s", documentID)
		return tasks.IngestionResult{}, errs.New(errs.EmptyInput, "文档 %s 没有可用内容", documentID)
	}
	log.Infof("[Processor] 步骤2: 抽取完成, 共 %d 个内容单元", len(units))

	log.Info("[Processor] 步骤3: 进行文本分块")
	chunks := p.chunker.Chunk(units)

	log.Info("[Processor] 步骤4: 向量化并写入集合")
	name, err := p.indexer.Build(ctx, documentID, chunks)
	if err != nil {
		return tasks.IngestionResult{}, err
	}

	log.Infof("[Processor] 文档处理成功完成, documentID: %s, collection: %s", documentID, name)
	return tasks.IngestionResult{
		Status:         "success",
		DocumentID:     documentID,
		CollectionName: name,
		ChunkCount:     len(chunks),
		DocumentCount:  len(units),
	}, nil
}

// HandleEmbedding 处理 create_embedding_task(document_id, s3_url)。
func (p *Processor) HandleEmbedding(ctx context.Context, env tasks.Envelope) (any, error) {
	return p.Process(ctx, env.Arg("document_id"), env.Arg("s3_url"))
}

// HandleInitialEmbedding 处理 create_initial_embedding_task(pdf_id, s3_url)，
// 预备索引写入 pdf_{pdf_id} 对应的集合，与正式教材互不覆盖。
func (p *Processor) HandleInitialEmbedding(ctx context.Context, env tasks.Envelope) (any, error) {
	pdfID := env.Arg("pdf_id")
	if pdfID == "" {
		return nil, errs.New(errs.InvalidIdentifier, "pdf_id 不能为空")
	}
	res, err := p.Process(ctx, collection.PreliminaryID(pdfID), env.Arg("s3_url"))
	if err != nil {
		return nil, fmt.Errorf("预备索引失败: %w", err)
	}
	return res, nil
}
