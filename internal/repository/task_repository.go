// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
)

// TaskRepository 保存后台任务的状态，供调用方轮询。
type TaskRepository interface {
	Save(ctx context.Context, status tasks.Status) error
	Get(ctx context.Context, id string) (*tasks.Status, error)
}

type redisTaskRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewTaskRepository 创建基于 Redis 的 TaskRepository，状态在 ttl 后过期。
func NewTaskRepository(redisClient *redis.Client, ttl time.Duration) TaskRepository {
	return &redisTaskRepository{redisClient: redisClient, ttl: ttl}
}

func taskKey(id string) string {
	return fmt.Sprintf("task:%s", id)
}

// Save 覆盖写入任务状态并刷新过期时间。
func (r *redisTaskRepository) Save(ctx context.Context, status tasks.Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	jsonData, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal task status: %w", err)
	}
	if err := r.redisClient.Set(ctx, taskKey(status.ID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	return nil
}

// Get 读取任务状态，不存在或已过期时返回 NotFound。
func (r *redisTaskRepository) Get(ctx context.Context, id string) (*tasks.Status, error) {
	jsonData, err := r.redisClient.Get(ctx, taskKey(id)).Result()
	if err == redis.Nil {
		return nil, errs.New(errs.NotFound, "任务 %s 不存在或已过期", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	var status tasks.Status
	if err := json.Unmarshal([]byte(jsonData), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task status: %w", err)
	}
	return &status, nil
}

// MemoryTaskRepository 是进程内的 TaskRepository，用于单机运行和测试。
type MemoryTaskRepository struct {
	mu      sync.Mutex
	items   map[string]tasks.Status
	history map[string][]tasks.State
}

// NewMemoryTaskRepository 创建空的内存任务仓库。
func NewMemoryTaskRepository() *MemoryTaskRepository {
	return &MemoryTaskRepository{
		items:   make(map[string]tasks.Status),
		history: make(map[string][]tasks.State),
	}
}

func (m *MemoryTaskRepository) Save(_ context.Context, status tasks.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	m.items[status.ID] = status
	m.history[status.ID] = append(m.history[status.ID], status.State)
	return nil
}

func (m *MemoryTaskRepository) Get(_ context.Context, id string) (*tasks.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "任务 %s 不存在或已过期", id)
	}
	return &s, nil
}

// States 返回任务经历过的状态序列。
func (m *MemoryTaskRepository) States(id string) []tasks.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tasks.State(nil), m.history[id]...)
}
