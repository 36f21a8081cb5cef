package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/storage"
)

const maxSourceBytes = 64 << 20

// Fetcher 下载上游产出的结构化 JSON。
// 支持 http(s):// 链接（含预签名 URL）和 s3://bucket/key 形式的对象地址。
type Fetcher struct {
	client  *http.Client
	objects storage.ObjectReader
}

// NewFetcher 创建 Fetcher。objects 为 nil 时不支持 s3:// 地址。
func NewFetcher(timeout time.Duration, objects storage.ObjectReader) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		objects: objects,
	}
}

// FetchJSON 下载并解码 JSON。非 2xx、超时、内容不是合法 JSON 都视为 DownloadFailed。
func (f *Fetcher) FetchJSON(ctx context.Context, rawURL string) (any, error) {
	data, err := f.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.Wrap(errs.DownloadFailed, err, "下载内容不是合法的 JSON").
			With("url", rawURL).
			With("body_snippet", snippet(data, 200))
	}
	return v, nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.Wrap(errs.DownloadFailed, err, "无法解析下载地址").With("url", rawURL)
	}

	switch u.Scheme {
	case "s3":
		if f.objects == nil {
			return nil, errs.New(errs.DownloadFailed, "未配置对象存储，无法下载 %s", rawURL)
		}
		key := strings.TrimPrefix(u.Path, "/")
		log.Infof("[Fetcher] 从对象存储下载, bucket: %s, key: %s", u.Host, key)
		data, err := f.objects.ReadObject(ctx, u.Host, key)
		if err != nil {
			return nil, errs.Wrap(errs.DownloadFailed, err, "对象存储下载失败").With("url", rawURL)
		}
		return data, nil
	case "http", "https":
		return f.fetchHTTP(ctx, rawURL)
	default:
		return nil, errs.New(errs.DownloadFailed, "不支持的下载地址: %s", rawURL)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.DownloadFailed, err, "创建下载请求失败")
	}
	log.Infof("[Fetcher] HTTP 下载: %s", redact(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.DownloadFailed, err, "HTTP 下载失败").With("url", redact(rawURL))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, errs.Wrap(errs.DownloadFailed, err, "读取下载内容失败")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.DownloadFailed, "下载返回状态码 %d", resp.StatusCode).
			With("status", resp.StatusCode).
			With("body_snippet", snippet(body, 200))
	}
	return body, nil
}

// redact 去掉预签名 URL 的查询串，避免签名写入日志。
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i] + "?…"
	}
	return rawURL
}

func snippet(b []byte, n int) string {
	r := []rune(string(b))
	if len(r) > n {
		return fmt.Sprintf("%s…", string(r[:n]))
	}
	return string(r)
}
