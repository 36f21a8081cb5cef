package vectorstore

import (
	"context"
	"testing"

	"dodream-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, v ...float32) model.VectorRecord {
	return model.VectorRecord{VectorID: id, TextContent: id, Vector: v}
}

func TestMemory_ReplaceAndSearch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Upsert(ctx, "material_a", []model.VectorRecord{rec("1", 1, 0), rec("2", 0, 1)}))
	require.NoError(t, m.Upsert(ctx, "material_b", []model.VectorRecord{rec("x", 1, 1)}))

	n, err := m.Count(ctx, "material_a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	hits, err := m.Search(ctx, "material_a", []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].Record.VectorID)
	assert.Equal(t, "material_a", hits[0].Record.Collection)

	require.NoError(t, m.DeleteCollection(ctx, "material_a"))
	require.NoError(t, m.DeleteCollection(ctx, "material_missing"))
	n, _ = m.Count(ctx, "material_a")
	assert.Zero(t, n)
	n, _ = m.Count(ctx, "material_b")
	assert.EqualValues(t, 1, n)
}

func TestMemory_UpsertOverwritesSameID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, "c", []model.VectorRecord{rec("1", 1, 0)}))
	require.NoError(t, m.Upsert(ctx, "c", []model.VectorRecord{rec("1", 0, 1)}))

	records := m.Records("c")
	require.Len(t, records, 1)
	assert.Equal(t, []float32{0, 1}, records[0].Vector)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}
