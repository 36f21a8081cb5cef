// Package kafka 提供了基于 Kafka 的后台任务队列：生产者负责入队，Runner 负责消费执行。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/tasks"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// StatusStore 保存任务状态。
type StatusStore interface {
	Save(ctx context.Context, status tasks.Status) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 将任务写入 Kafka，并登记 PENDING 状态。
type Producer struct {
	writer messageWriter
	store  StatusStore
}

// NewProducer 创建 Kafka 生产者。消息以 key 做哈希分区，
// 同一个 key（文档 ID）的任务总是落在同一分区，按顺序被同一个消费者处理。
func NewProducer(cfg config.KafkaConfig, store StatusStore) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w, store: store}
}

// Enqueue 入队一个任务并返回任务句柄。
func (p *Producer) Enqueue(ctx context.Context, name, key string, args map[string]string) (string, error) {
	env := tasks.Envelope{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       args,
		EnqueuedAt: time.Now(),
	}
	value, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	if err := p.store.Save(ctx, tasks.Status{ID: env.ID, Name: name, State: tasks.Pending}); err != nil {
		return "", fmt.Errorf("登记任务状态失败: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		_ = p.store.Save(ctx, tasks.Status{ID: env.ID, Name: name, State: tasks.Failure, Error: "入队失败: " + err.Error()})
		return "", fmt.Errorf("写入 Kafka 失败: %w", err)
	}
	log.Infof("[Producer] 任务已入队, id: %s, name: %s, key: %s", env.ID, name, key)
	return env.ID, nil
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}
