package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dodream-rag-go/internal/chunker"
	"dodream-rag-go/internal/fake"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/provider"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type objectsFunc func(ctx context.Context, bucket, key string) ([]byte, error)

func (f objectsFunc) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	return f(ctx, bucket, key)
}

func serveJSON(t *testing.T, body *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.json":
			http.NotFound(w, r)
		case "/html":
			_, _ = w.Write([]byte("<html>oops</html>"))
		default:
			_, _ = w.Write([]byte(*body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProcessor(emb *fake.Embedder, store vectorstore.Store) *Processor {
	models := provider.Static(emb, nil, nil)
	return NewProcessor(
		NewFetcher(5*time.Second, nil),
		chunker.New(),
		NewIndexer(models, store, 2, 2),
	)
}

func TestProcess_HelloWorld(t *testing.T) {
	body := `{"chapters":[{"id":1,"title":"인사","type":"content","content":"<p>Hello<br/>World</p>"}]}`
	srv := serveJSON(t, &body)
	store := vectorstore.NewMemory()

	res, err := newProcessor(&fake.Embedder{}, store).Process(context.Background(), "doc1", srv.URL+"/doc1.json")
	require.NoError(t, err)
	assert.Equal(t, "material_doc1", res.CollectionName)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, 1, res.DocumentCount)

	records := store.Records("material_doc1")
	require.Len(t, records, 1)
	assert.Equal(t, "Hello\nWorld", records[0].TextContent)
	assert.Equal(t, "인사", records[0].Metadata.Title)
	assert.Equal(t, "fake-embedding", records[0].ModelVersion)
	assert.Len(t, records[0].Vector, fake.Dims)
}

func TestProcess_ReplacesCollectionWholesale(t *testing.T) {
	body := `{"chapters":[
		{"id":1,"title":"a","type":"content","content":"첫째"},
		{"id":2,"title":"b","type":"content","content":"둘째"},
		{"id":3,"title":"q","type":"quiz","qa":[{"question":"q","answer":"a"}]}
	]}`
	srv := serveJSON(t, &body)
	store := vectorstore.NewMemory()
	p := newProcessor(&fake.Embedder{}, store)

	_, err := p.Process(context.Background(), "doc1", srv.URL+"/doc1.json")
	require.NoError(t, err)
	require.Len(t, store.Records("material_doc1"), 3)

	body = `{"chapters":[{"id":9,"title":"new","type":"content","content":"새 내용"}]}`
	_, err = p.Process(context.Background(), "doc1", srv.URL+"/doc1.json")
	require.NoError(t, err)

	records := store.Records("material_doc1")
	require.Len(t, records, 1)
	assert.Equal(t, "새 내용", records[0].TextContent)
}

func TestProcess_EmbeddingFailureKeepsOldCollection(t *testing.T) {
	body := `{"chapters":[{"id":1,"title":"a","type":"content","content":"old"}]}`
	srv := serveJSON(t, &body)
	store := vectorstore.NewMemory()
	emb := &fake.Embedder{}
	p := newProcessor(emb, store)

	_, err := p.Process(context.Background(), "doc1", srv.URL+"/x.json")
	require.NoError(t, err)

	emb.Err = errors.New("503 from embedding api")
	body = `{"chapters":[{"id":1,"title":"a","type":"content","content":"new"}]}`
	_, err = p.Process(context.Background(), "doc1", srv.URL+"/x.json")
	require.Error(t, err)
	assert.True(t, errs.Retryable(err))

	records := store.Records("material_doc1")
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].TextContent)
}

func TestProcess_Errors(t *testing.T) {
	body := `{"chapters":[{"id":1,"type":"content","content":"<p>새 챕터의 내용을 입력하세요</p>"}]}`
	srv := serveJSON(t, &body)
	p := newProcessor(&fake.Embedder{}, vectorstore.NewMemory())
	ctx := context.Background()

	_, err := p.Process(ctx, "doc1", srv.URL+"/empty.json")
	assert.True(t, errs.Is(err, errs.EmptyInput))

	_, err = p.Process(ctx, "doc1", srv.URL+"/missing.json")
	assert.True(t, errs.Is(err, errs.DownloadFailed))

	_, err = p.Process(ctx, "doc1", srv.URL+"/html")
	assert.True(t, errs.Is(err, errs.DownloadFailed))

	_, err = p.Process(ctx, "", srv.URL+"/x.json")
	assert.True(t, errs.Is(err, errs.InvalidIdentifier))

	body = `{"pages":[]}`
	_, err = p.Process(ctx, "doc1", srv.URL+"/x.json")
	assert.True(t, errs.Is(err, errs.UnrecognizedSchema))
	assert.False(t, errs.Retryable(err))
}

func TestProcess_ModelUnavailable(t *testing.T) {
	body := `{"chapters":[{"id":1,"title":"a","type":"content","content":"x"}]}`
	srv := serveJSON(t, &body)
	p := NewProcessor(NewFetcher(time.Second, nil), chunker.New(), NewIndexer(provider.Static(nil, nil, nil), vectorstore.NewMemory(), 0, 0))

	_, err := p.Process(context.Background(), "doc1", srv.URL+"/x.json")
	assert.True(t, errs.Is(err, errs.ModelUnavailable))
}

func TestIndexer_EmptyChunks(t *testing.T) {
	ix := NewIndexer(provider.Static(&fake.Embedder{}, nil, nil), vectorstore.NewMemory(), 0, 0)
	_, err := ix.Build(context.Background(), "doc1", nil)
	assert.True(t, errs.Is(err, errs.EmptyInput))
}

func TestIndexer_BatchesPreserveOrder(t *testing.T) {
	store := vectorstore.NewMemory()
	emb := &fake.Embedder{}
	ix := NewIndexer(provider.Static(emb, nil, nil), store, 3, 2)

	chunks := make([]model.Chunk, 10)
	for i := range chunks {
		chunks[i] = model.Chunk{Index: i, Text: strings.Repeat(string(rune('a'+i)), 5)}
	}
	name, err := ix.Build(context.Background(), "doc 1", chunks)
	require.NoError(t, err)
	assert.Equal(t, "material_doc_1", name)
	assert.Equal(t, 4, emb.Calls)

	records := store.Records(name)
	require.Len(t, records, 10)
	for i, r := range records {
		assert.Equal(t, chunks[i].Text, r.TextContent)
		assert.Equal(t, fake.Vector(chunks[i].Text), r.Vector)
		assert.Equal(t, i, r.ChunkIndex)
	}
}

func TestFetcher_S3(t *testing.T) {
	f := NewFetcher(time.Second, objectsFunc(func(_ context.Context, bucket, key string) ([]byte, error) {
		assert.Equal(t, "materials", bucket)
		assert.Equal(t, "parsed/doc1.json", key)
		return []byte(`{"chapters":[]}`), nil
	}))
	v, err := f.FetchJSON(context.Background(), "s3://materials/parsed/doc1.json")
	require.NoError(t, err)
	assert.Contains(t, v, "chapters")

	_, err = NewFetcher(time.Second, nil).FetchJSON(context.Background(), "s3://materials/x.json")
	assert.True(t, errs.Is(err, errs.DownloadFailed))

	_, err = f.FetchJSON(context.Background(), "ftp://host/x.json")
	assert.True(t, errs.Is(err, errs.DownloadFailed))
}

func TestHandleInitialEmbedding(t *testing.T) {
	body := `{"data":[{"index":1,"index_title":"I","titles":[{"title":"세포","contents":"세포는 생명의 단위"}]}]}`
	srv := serveJSON(t, &body)
	store := vectorstore.NewMemory()
	p := newProcessor(&fake.Embedder{}, store)

	out, err := p.HandleInitialEmbedding(context.Background(), tasks.Envelope{Args: map[string]string{"pdf_id": "77", "s3_url": srv.URL + "/p.json"}})
	require.NoError(t, err)
	res := out.(tasks.IngestionResult)
	assert.Equal(t, "pdf_77", res.DocumentID)
	assert.Equal(t, "material_pdf_77", res.CollectionName)
	assert.Len(t, store.Records("material_pdf_77"), 1)

	_, err = p.HandleInitialEmbedding(context.Background(), tasks.Envelope{})
	assert.True(t, errs.Is(err, errs.InvalidIdentifier))
}
