// Package extractor 把上游产出的结构化 JSON 转换为带标签的内容单元。
//
// 支持两种输入结构，按固定优先级通过键名探测：
//  1. 章节列表 {"chapters": [...]}（编辑器产出的正式教材）
//  2. 层级大纲 {"data": [{"index", "index_title", "titles": [...]}]}（PDF 解析的旧格式）
//
// 二者都不匹配时，会尝试拆开 parsedData / parsed_data 包装层再探测一次。
package extractor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"
)

// Schema 是探测到的输入结构。
type Schema int

const (
	SchemaUnknown Schema = iota
	SchemaChapters
	SchemaOutline
	SchemaWrapped
)

func (s Schema) String() string {
	switch s {
	case SchemaChapters:
		return "chapters"
	case SchemaOutline:
		return "outline"
	case SchemaWrapped:
		return "wrapped"
	default:
		return "unknown"
	}
}

const (
	// EmptyChapterMarker 是编辑器为空章节填充的占位文本。
	EmptyChapterMarker = "새 챕터의 내용을 입력하세요"
	// ReviewMarker 标记“개념 Check”复习框，由单独的流程处理，不进入索引。
	ReviewMarker = "개념 Check"

	untitled = "제목 없음"
)

var wrapperKeys = []string{"parsedData", "parsed_data"}

// Detect 按优先级探测 JSON 结构。
func Detect(raw map[string]any) Schema {
	if _, ok := raw["chapters"].([]any); ok {
		return SchemaChapters
	}
	if _, ok := raw["data"].([]any); ok {
		return SchemaOutline
	}
	for _, k := range wrapperKeys {
		if _, ok := raw[k].(map[string]any); ok {
			return SchemaWrapped
		}
	}
	return SchemaUnknown
}

// ExtractBytes 解析 JSON 字节后抽取内容单元。
func ExtractBytes(data []byte) ([]model.ContentUnit, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errs.Wrap(errs.UnrecognizedSchema, err, "输入不是合法的 JSON")
	}
	return ExtractValue(v)
}

// ExtractValue 从已解码的 JSON 值中抽取内容单元。顶层为数组时按章节列表处理。
func ExtractValue(v any) ([]model.ContentUnit, error) {
	switch t := v.(type) {
	case map[string]any:
		return Extract(t)
	case []any:
		return Extract(map[string]any{"chapters": t})
	default:
		return nil, errs.New(errs.UnrecognizedSchema, "顶层 JSON 类型不受支持: %T", v)
	}
}

// Extract 将结构化 JSON 转换为内容单元序列。
func Extract(raw map[string]any) ([]model.ContentUnit, error) {
	return extract(raw, true)
}

func extract(raw map[string]any, allowUnwrap bool) ([]model.ContentUnit, error) {
	schema := Detect(raw)
	log.Infof("[Extractor] 探测到输入结构: %s", schema)

	switch schema {
	case SchemaChapters:
		return extractChapters(raw["chapters"].([]any)), nil
	case SchemaOutline:
		return extractOutline(raw["data"].([]any)), nil
	case SchemaWrapped:
		if allowUnwrap {
			for _, k := range wrapperKeys {
				if inner, ok := raw[k].(map[string]any); ok {
					return extract(inner, false)
				}
			}
		}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return nil, errs.New(errs.UnrecognizedSchema, "无法识别的 JSON 结构, 顶层键: %v", keys).
		With("seen_keys", keys)
}

func extractChapters(chapters []any) []model.ContentUnit {
	var units []model.ContentUnit
	for _, item := range chapters {
		ch, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := str(ch, "title")
		if title == "" {
			title = untitled
		}
		chapterType := str(ch, "type")
		contentHTML := str(ch, "content")
		base := model.Metadata{
			ChapterID: scalar(ch["id"]),
			Title:     title,
			Type:      chapterType,
		}

		if strings.Contains(contentHTML, EmptyChapterMarker) {
			log.Infof("[Extractor] 跳过空章节: %s", title)
			continue
		}

		switch chapterType {
		case model.ChapterTypeContent:
			text := CleanHTML(contentHTML)
			if strings.TrimSpace(text) == "" {
				continue
			}
			units = append(units, model.ContentUnit{Kind: model.UnitContent, Text: text, Meta: base})
		case model.ChapterTypeQuiz:
			for idx, pair := range maps(ch, "qa") {
				q, a := str(pair, "question"), str(pair, "answer")
				if q == "" || a == "" {
					continue
				}
				meta := base.Clone()
				i := idx
				meta.QAIndex = &i
				units = append(units, model.ContentUnit{
					Kind: model.UnitQA,
					Text: fmt.Sprintf("질문: %s\n정답: %s", q, a),
					Meta: meta,
				})
			}
		default:
			log.Warnf("[Extractor] 未知章节类型 '%s', 章节: %s", chapterType, title)
		}
	}
	log.Infof("[Extractor] 章节列表解析完成, 共生成 %d 个内容单元", len(units))
	return units
}

// extractOutline 遍历 index → title → s_title → ss_title 四层结构，
// 每一层带有正文的节点生成一个内容单元，标题链写入元数据。
func extractOutline(indexes []any) []model.ContentUnit {
	var units []model.ContentUnit
	emit := func(heading string, contents []string, meta model.Metadata) {
		cleaned := make([]string, 0, len(contents))
		for _, c := range contents {
			if strings.Contains(c, EmptyChapterMarker) {
				return
			}
			if t := CleanHTML(c); t != "" {
				cleaned = append(cleaned, t)
			}
		}
		body := strings.Join(cleaned, "\n")
		if body == "" {
			return
		}
		text := body
		if heading != "" {
			text = heading + "\n" + body
		}
		units = append(units, model.ContentUnit{Kind: model.UnitContent, Text: text, Meta: meta})
	}

	for _, item := range indexes {
		idx, ok := item.(map[string]any)
		if !ok {
			continue
		}
		indexTitle := str(idx, "index_title")
		if isReview(indexTitle) {
			continue
		}
		if indexTitle == "" {
			indexTitle = untitled
		}
		base := model.Metadata{
			ChapterID: scalar(idx["index"]),
			Title:     indexTitle,
			Type:      model.ChapterTypeContent,
		}
		emit(indexTitle, text(idx["contents"]), base)

		for _, t := range maps(idx, "titles") {
			title := str(t, "title")
			if isReview(title) {
				continue
			}
			tMeta := base
			tMeta.SectionTitle = title
			emit(title, text(t["contents"]), tMeta)

			for _, s := range maps(t, "s_titles") {
				sTitle := str(s, "s_title")
				if isReview(sTitle) {
					continue
				}
				sMeta := tMeta
				sMeta.SubTitle = sTitle
				emit(sTitle, text(s["contents"]), sMeta)

				for _, ss := range maps(s, "ss_titles") {
					ssTitle := str(ss, "ss_title")
					if isReview(ssTitle) {
						continue
					}
					ssMeta := sMeta
					if ssTitle != "" {
						ssMeta.SubTitle = strings.TrimSpace(sTitle + " > " + ssTitle)
					}
					emit(ssTitle, text(ss["contents"]), ssMeta)
				}
			}
		}
	}
	log.Infof("[Extractor] 层级大纲解析完成, 共生成 %d 个内容单元", len(units))
	return units
}

func isReview(title string) bool {
	return strings.TrimSpace(title) == ReviewMarker
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// text 读取 contents 字段，兼容字符串和字符串数组两种写法。
// 数组的每一项各自清洗，之间以换行分隔。
func text(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	return nil
}

func maps(m map[string]any, key string) []map[string]any {
	list, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if mm, ok := item.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

// scalar 把 JSON 中的 id（数字或字符串）转为字符串。
func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
