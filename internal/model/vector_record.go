package model

// VectorRecord 定义了存储在 Elasticsearch 中的向量文档结构。
// 一个集合（collection）对应一个文档 ID，整批替换，不做增量更新。
type VectorRecord struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：collection + chunk 序号
	Collection   string    `json:"collection"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	Metadata     Metadata  `json:"metadata"`
	ModelVersion string    `json:"model_version"`
}

// ToChunk 还原为检索阶段使用的 Chunk。
func (r VectorRecord) ToChunk() Chunk {
	return Chunk{Index: r.ChunkIndex, Text: r.TextContent, Meta: r.Metadata}
}
