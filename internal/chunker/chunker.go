// Package chunker 将内容单元切分为适合向量化的分块。
package chunker

import (
	"strings"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/pkg/log"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100
)

// Chunker 按字符窗口切分正文，问答单元保持原子。
type Chunker struct {
	size    int
	overlap int
}

// Option 配置 Chunker。
type Option func(*Chunker)

// WithChunkSize 设置窗口大小（字符数）。
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap 设置相邻窗口的重叠字符数。
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New 创建 Chunker。
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk 切分内容单元。输出顺序：先是所有正文分块（保持来源顺序），
// 然后是所有原子单元（保持来源顺序）。每个分块继承所属单元的元数据。
func (c *Chunker) Chunk(units []model.ContentUnit) []model.Chunk {
	var content, atomic []model.Chunk
	for _, u := range units {
		if u.Atomic() {
			atomic = append(atomic, model.Chunk{Text: u.Text, Meta: u.Meta.Clone()})
			continue
		}
		for _, w := range c.split(u.Text) {
			content = append(content, model.Chunk{Text: w, Meta: u.Meta.Clone()})
		}
	}

	out := append(content, atomic...)
	for i := range out {
		out[i].Index = i
	}
	log.Infof("[Chunker] 分块完成, chunkSize: %d, chunkOverlap: %d, 正文分块: %d, 原子单元: %d",
		c.size, c.overlap, len(content), len(atomic))
	return out
}

// split 将文本按 size 个字符的窗口切分，窗口每次前进 size-overlap 个字符。
func (c *Chunker) split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	if step <= 0 {
		// 重叠不小于窗口时退化为无重叠切分
		step = c.size
	}

	var windows []string
	for i := 0; i < len(runes); i += step {
		end := i + c.size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return windows
}
