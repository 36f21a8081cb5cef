package handler

import (
	"context"
	"net/http"

	"dodream-rag-go/internal/repository"
	"dodream-rag-go/pkg/collection"
	"dodream-rag-go/pkg/log"
	"dodream-rag-go/pkg/tasks"

	"github.com/gin-gonic/gin"
)

// TaskQueue 将后台任务入队。
type TaskQueue interface {
	Enqueue(ctx context.Context, name, key string, args map[string]string) (string, error)
}

// RAGHandler 负责教材入库任务的提交与查询。
type RAGHandler struct {
	queue TaskQueue
	tasks repository.TaskRepository
}

// NewRAGHandler 创建一个新的 RAGHandler 实例。
func NewRAGHandler(queue TaskQueue, taskRepo repository.TaskRepository) *RAGHandler {
	return &RAGHandler{queue: queue, tasks: taskRepo}
}

type embeddingRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	S3URL      string `json:"s3_url" binding:"required"`
}

type initialEmbeddingRequest struct {
	PDFID string `json:"pdf_id" binding:"required"`
	S3URL string `json:"s3_url" binding:"required"`
}

// CreateEmbedding 提交教材入库任务。
func (h *RAGHandler) CreateEmbedding(c *gin.Context) {
	var req embeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数无效: "+err.Error())
		return
	}
	h.enqueue(c, tasks.CreateEmbedding, req.DocumentID, map[string]string{
		"document_id": req.DocumentID,
		"s3_url":      req.S3URL,
	})
}

// CreateInitialEmbedding 提交 PDF 解析结果的预备入库任务。
func (h *RAGHandler) CreateInitialEmbedding(c *gin.Context) {
	var req initialEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数无效: "+err.Error())
		return
	}
	h.enqueue(c, tasks.CreateInitialEmbedding, collection.PreliminaryID(req.PDFID), map[string]string{
		"pdf_id": req.PDFID,
		"s3_url": req.S3URL,
	})
}

func (h *RAGHandler) enqueue(c *gin.Context, name, documentID string, args map[string]string) {
	if _, err := collection.Name(documentID); err != nil {
		fail(c, err)
		return
	}
	handle, err := h.queue.Enqueue(c.Request.Context(), name, documentID, args)
	if err != nil {
		fail(c, err)
		return
	}
	log.Infof("[RAGHandler] 已提交任务 %s, documentID: %s, handle: %s", name, documentID, handle)
	ok(c, http.StatusAccepted, "任务已提交", gin.H{"status": "accepted", "task_handle": handle})
}

// GetTask 查询任务状态。
func (h *RAGHandler) GetTask(c *gin.Context) {
	status, err := h.tasks.Get(c.Request.Context(), c.Param("handle"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "获取任务状态成功", status)
}
