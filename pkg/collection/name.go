// Package collection 负责把文档 ID 映射为向量集合名。
package collection

import (
	"strings"

	"dodream-rag-go/pkg/errs"
)

const (
	// Prefix 是所有教材集合名的命名空间前缀。
	Prefix = "material_"
	// MaxLen 是集合名的最大长度。
	MaxLen = 63
	// PreliminaryPrefix 用于初始（预解析）嵌入，避免与正式嵌入共用集合。
	PreliminaryPrefix = "pdf_"
)

// Name 将 documentID 转换为集合名：非 [A-Za-z0-9_] 字符替换为 '_'，
// 加上前缀后截断到 63 个字符。空 ID 返回 InvalidIdentifier。
func Name(documentID string) (string, error) {
	if documentID == "" {
		return "", errs.New(errs.InvalidIdentifier, "document id 为空")
	}

	var b strings.Builder
	b.Grow(len(Prefix) + len(documentID))
	b.WriteString(Prefix)
	for _, r := range documentID {
		if isAllowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	name := b.String()
	if len(name) > MaxLen {
		name = name[:MaxLen]
	}
	return name, nil
}

// PreliminaryID 返回初始嵌入使用的文档 ID。
func PreliminaryID(pdfID string) string {
	return PreliminaryPrefix + pdfID
}

func isAllowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
