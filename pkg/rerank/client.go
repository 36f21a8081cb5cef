// Package rerank 提供交叉编码器重排服务的客户端（TEI / Jina 风格的 /rerank 接口）。
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dodream-rag-go/internal/config"
	"dodream-rag-go/pkg/log"
)

// Result 是一个候选文档的重排分数。Index 指向请求中的 documents 下标。
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Client 对 (query, document) 对打分。
type Client interface {
	Rerank(ctx context.Context, query string, documents []string) ([]Result, error)
	Model() string
}

type httpClient struct {
	cfg    config.ModelEndpoint
	client *http.Client
}

// NewClient 创建重排客户端。
func NewClient(cfg config.ModelEndpoint) Client {
	return &httpClient{cfg: cfg, client: &http.Client{}}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []Result `json:"results"`
}

func (c *httpClient) Model() string {
	return c.cfg.Model
}

// Rerank 返回每个文档的分数，顺序与服务端返回一致；调用方负责排序截断。
func (c *httpClient) Rerank(ctx context.Context, query string, documents []string) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	reqBytes, err := json.Marshal(rerankRequest{
		Model:     c.cfg.Model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[RerankClient] 调用重排服务失败, model: %s, error: %v", c.cfg.Model, err)
		return nil, fmt.Errorf("failed to call rerank api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank api returned out-of-range index %d", r.Index)
		}
	}
	return out.Results, nil
}
