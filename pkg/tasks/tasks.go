// Package tasks defines the messages sent to Kafka and the status records kept for them.
package tasks

import (
	"encoding/json"
	"time"
)

// 任务名称，与上游调用方约定。
const (
	CreateEmbedding        = "create_embedding_task"
	CreateInitialEmbedding = "create_initial_embedding_task"
)

// State 是任务状态。
type State string

const (
	Pending State = "PENDING"
	Started State = "STARTED"
	Retry   State = "RETRY"
	Success State = "SUCCESS"
	Failure State = "FAILURE"
)

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == Success || s == Failure
}

// Envelope 是写入 Kafka 的任务消息。
type Envelope struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Args       map[string]string `json:"args"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Arg 返回参数值，不存在时为空串。
func (e Envelope) Arg(key string) string {
	return e.Args[key]
}

// Status 是保存在结果后端的任务状态，调用方据此轮询。
type Status struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	State     State           `json:"status"`
	Attempt   int             `json:"attempt"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IngestionResult 是入库任务成功后的结果。
type IngestionResult struct {
	Status         string `json:"status"`
	DocumentID     string `json:"document_id"`
	CollectionName string `json:"collection_name"`
	ChunkCount     int    `json:"chunk_count"`
	DocumentCount  int    `json:"document_count"`
}
