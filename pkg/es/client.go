// Package es 提供了基于 Elasticsearch 的向量存储。
//
// 所有集合共用一个索引，用 keyword 字段 collection 区分；
// 删除集合即 delete_by_query，检索时用 kNN 加 collection 过滤。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/vectorstore"
	"dodream-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const bulkBatchSize = 500

// Store 是 vectorstore.Store 的 Elasticsearch 实现。
type Store struct {
	client *elasticsearch.Client
	index  string
}

var _ vectorstore.Store = (*Store)(nil)

// InitES 初始化 Elasticsearch 客户端，并确保向量索引存在。
func InitES(esCfg config.ElasticsearchConfig) (*Store, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := NewStore(client, esCfg.IndexName)
	if err := s.createIndexIfNotExists(context.Background(), esCfg.Dims); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStore 使用已有客户端创建 Store。
func NewStore(client *elasticsearch.Client, index string) *Store {
	return &Store{client: client, index: index}
}

// indexMapping 返回向量索引的 mapping。metadata 只存储不索引。
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"collection": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"metadata": { "type": "object", "enabled": false },
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (s *Store) createIndexIfNotExists(ctx context.Context, dims int) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", s.index, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping(dims))),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, dims: %d", s.index, dims)
	return nil
}

func collectionQuery(collection string) map[string]any {
	return map[string]any{"term": map[string]any{"collection": collection}}
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// DeleteCollection 删除集合的全部文档并刷新索引。
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	body, err := jsonBody(map[string]any{"query": collectionQuery(collection)})
	if err != nil {
		return err
	}
	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{s.index},
		Body:      body,
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("删除集合 %s 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("[ES] 删除集合 '%s' 时 Elasticsearch 返回错误: %s", collection, res.String())
		return fmt.Errorf("删除集合 %s 时 Elasticsearch 返回错误: %s", collection, res.Status())
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	_ = json.NewDecoder(res.Body).Decode(&out)
	log.Infof("[ES] 集合 '%s' 已清空, 删除 %d 条记录", collection, out.Deleted)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 通过 bulk 接口批量写入记录。
func (s *Store) Upsert(ctx context.Context, collection string, records []model.VectorRecord) error {
	for start := 0; start < len(records); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.bulk(ctx, collection, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) bulk(ctx context.Context, collection string, records []model.VectorRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		r.Collection = collection
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": s.index, "_id": r.VectorID}}); err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("批量写入集合 %s 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("批量写入集合 %s 时 Elasticsearch 返回错误: %s", collection, res.Status())
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if out.Errors {
		for _, item := range out.Items {
			for _, op := range item {
				if op.Status >= 300 {
					return fmt.Errorf("bulk 写入失败: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
	}
	log.Infof("[ES] 集合 '%s' 写入 %d 条记录", collection, len(records))
	return nil
}

// Count 返回集合中的文档数。
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	body, err := jsonBody(map[string]any{"query": collectionQuery(collection)})
	if err != nil {
		return 0, err
	}
	req := esapi.CountRequest{Index: []string{s.index}, Body: body}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return 0, fmt.Errorf("统计集合 %s 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("统计集合 %s 时 Elasticsearch 返回错误: %s", collection, res.Status())
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("解析 count 响应失败: %w", err)
	}
	return out.Count, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64            `json:"_score"`
			Source model.VectorRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在集合内做 kNN 检索，返回余弦相似度降序的结果。
func (s *Store) Search(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Hit, error) {
	numCandidates := k * 5
	if numCandidates < 100 {
		numCandidates = 100
	}
	body, err := jsonBody(map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter":         collectionQuery(collection),
		},
		"size": k,
	})
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{Index: []string{s.index}, Body: body}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("检索集合 %s 失败: %w", collection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] 检索集合 '%s' 时 Elasticsearch 返回错误: %s", collection, res.String())
		return nil, fmt.Errorf("检索集合 %s 时 Elasticsearch 返回错误: %s", collection, res.Status())
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}
	hits := make([]vectorstore.Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		// cosine 相似度下 _score = (1 + cos) / 2
		hits = append(hits, vectorstore.Hit{Record: h.Source, Score: 2*h.Score - 1})
	}
	return hits, nil
}
