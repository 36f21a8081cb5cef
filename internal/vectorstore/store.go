// Package vectorstore 定义按集合（collection）划分的向量存储接口。
package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"dodream-rag-go/internal/model"
)

// Hit 是一次相似度检索的命中结果，携带向量供 MMR 使用。
type Hit struct {
	Record model.VectorRecord
	Score  float64
}

// Store 是向量存储。同一集合只能整体替换：先 DeleteCollection，再 Upsert。
type Store interface {
	// DeleteCollection 删除集合中的全部记录，集合不存在不算错误。
	DeleteCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, records []model.VectorRecord) error
	Count(ctx context.Context, collection string) (int64, error)
	// Search 返回与 vector 余弦相似度最高的 k 条记录，按分数降序。
	Search(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error)
}

// Memory 是进程内的 Store 实现，用于本地开发和测试。
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]model.VectorRecord
}

// NewMemory 创建空的内存存储。
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]model.VectorRecord)}
}

func (m *Memory) DeleteCollection(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, collection)
	return nil
}

func (m *Memory) Upsert(_ context.Context, collection string, records []model.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collection]
	byID := make(map[string]int, len(existing))
	for i, r := range existing {
		byID[r.VectorID] = i
	}
	for _, r := range records {
		r.Collection = collection
		if i, ok := byID[r.VectorID]; ok {
			existing[i] = r
			continue
		}
		byID[r.VectorID] = len(existing)
		existing = append(existing, r)
	}
	m.collections[collection] = existing
	return nil
}

func (m *Memory) Count(_ context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.collections[collection])), nil
}

func (m *Memory) Search(_ context.Context, collection string, vector []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	records := append([]model.VectorRecord(nil), m.collections[collection]...)
	m.mu.RUnlock()

	hits := make([]Hit, 0, len(records))
	for _, r := range records {
		hits = append(hits, Hit{Record: r, Score: Cosine(vector, r.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Records 返回集合当前的全部记录（按写入顺序）。
func (m *Memory) Records(collection string) []model.VectorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.VectorRecord(nil), m.collections[collection]...)
}

// Cosine 计算两个向量的余弦相似度，维度不一致或零向量返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
