// Package model 包含了应用的数据模型定义。
package model

// UnitKind 区分内容单元的种类。
type UnitKind string

const (
	// UnitContent 是普通正文，会被切块。
	UnitContent UnitKind = "content"
	// UnitQA 是问答对，保持原子性，不切块。
	UnitQA UnitKind = "qa"
)

// 章节类型标签，对应 JSON 中 chapter.type。
const (
	ChapterTypeContent = "content"
	ChapterTypeQuiz    = "quiz"
)

// Metadata 是随内容单元、分块一起写入向量库的元数据。
type Metadata struct {
	ChapterID    string `json:"chapter_id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	SectionTitle string `json:"section_title,omitempty"`
	SubTitle     string `json:"sub_title,omitempty"`
	QAIndex      *int   `json:"qa_index,omitempty"`
}

// Clone 返回元数据的深拷贝。
func (m Metadata) Clone() Metadata {
	if m.QAIndex != nil {
		idx := *m.QAIndex
		m.QAIndex = &idx
	}
	return m
}

// ContentUnit 是从结构化 JSON 中抽取出的一段带标签文本。
type ContentUnit struct {
	Kind UnitKind `json:"kind"`
	Text string   `json:"text"`
	Meta Metadata `json:"metadata"`
}

// Atomic 报告该单元是否必须整体保留。
func (u ContentUnit) Atomic() bool {
	return u.Kind == UnitQA || u.Meta.Type == ChapterTypeQuiz
}

// Chunk 是写入向量库的最小单位：一个内容单元，或其一个窗口。
type Chunk struct {
	Index int      `json:"index"`
	Text  string   `json:"text"`
	Meta  Metadata `json:"metadata"`
}

// ScoredChunk 是检索结果，Score 的含义取决于检索阶段（相似度或重排分数）。
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}
