package main

import (
	"context"
	"fmt"

	"dodream-rag-go/internal/chunker"
	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/pipeline"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/repository"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/database"
	"dodream-rag-go/pkg/es"
	"dodream-rag-go/pkg/kafka"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/retry"
	"dodream-rag-go/pkg/storage"
	"dodream-rag-go/pkg/tasks"
)

// core 是 serve、worker、ingest 共用的依赖。
type core struct {
	cfg       config.Config
	models    *provider.Services
	store     vectorstore.Store
	processor *pipeline.Processor
}

func newCore(ctx context.Context, cfg config.Config) (*core, error) {
	models := provider.Init(ctx, cfg)

	var store vectorstore.Store
	if cfg.Elasticsearch.Addresses == "" {
		log.Warnf("未配置 Elasticsearch, 使用进程内向量存储, 数据不会持久化")
		store = vectorstore.NewMemory()
	} else {
		esStore, err := es.InitES(cfg.Elasticsearch)
		if err != nil {
			return nil, fmt.Errorf("es 初始化失败: %w", err)
		}
		store = esStore
	}

	var objects storage.ObjectReader
	if cfg.MinIO.Endpoint != "" {
		m, err := storage.InitMinIO(ctx, cfg.MinIO)
		if err != nil {
			return nil, err
		}
		objects = m
	}

	processor := pipeline.NewProcessor(
		pipeline.NewFetcher(cfg.Ingestion.DownloadTimeout, objects),
		chunker.New(chunker.WithChunkSize(cfg.Ingestion.ChunkSize), chunker.WithOverlap(cfg.Ingestion.ChunkOverlap)),
		pipeline.NewIndexer(models, store, cfg.Embedding.BatchSize, cfg.Embedding.Concurrency),
	)
	return &core{cfg: cfg, models: models, store: store, processor: processor}, nil
}

func newTaskRepository(ctx context.Context, cfg config.Config) (repository.TaskRepository, error) {
	if cfg.Database.Redis.Addr == "" {
		log.Warnf("未配置 Redis, 任务状态保存在进程内")
		return repository.NewMemoryTaskRepository(), nil
	}
	rdb, err := database.OpenRedis(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	return repository.NewTaskRepository(rdb, cfg.Task.ResultTTL), nil
}

// newRunner 创建入库任务的 Kafka 消费者，重试次数为 1 次初始执行加 max_retries 次重试。
func (c *core) newRunner(statusStore kafka.StatusStore) *kafka.Runner {
	runner := kafka.NewRunner(c.cfg.Kafka, statusStore, retry.Policy{
		MaxAttempts: c.cfg.Ingestion.MaxRetries + 1,
		Delay:       c.cfg.Ingestion.RetryDelay,
	})
	runner.Register(tasks.CreateEmbedding, c.processor.HandleEmbedding)
	runner.Register(tasks.CreateInitialEmbedding, c.processor.HandleInitialEmbedding)
	return runner
}
