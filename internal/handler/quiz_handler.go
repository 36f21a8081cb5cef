package handler

import (
	"net/http"

	"dodream-rag-go/internal/model"
	"dodream-rag-go/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	defaultQuizCount = 10
	minQuizCount     = 5
	maxQuizCount     = 20
)

// QuizHandler 负责出题与批改请求。
type QuizHandler struct {
	quizService service.QuizService
}

// NewQuizHandler 创建一个新的 QuizHandler。
func NewQuizHandler(quizService service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

type generateRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
	Count      int    `json:"count"`
}

// Generate 基于教材生成题目。
func (h *QuizHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数无效: "+err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = defaultQuizCount
	}
	if req.Count < minQuizCount || req.Count > maxQuizCount {
		badRequest(c, "count 必须在 5 到 20 之间")
		return
	}
	questions, err := h.quizService.Generate(c.Request.Context(), req.DocumentID, req.Count)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "出题成功", gin.H{"document_id": req.DocumentID, "questions": questions})
}

type gradeRequest struct {
	Questions []model.GradeQuestion `json:"questions" binding:"required,dive"`
	Answers   []model.StudentAnswer `json:"answers" binding:"required,dive"`
}

// Grade 批改学生答案。
func (h *QuizHandler) Grade(c *gin.Context) {
	var req gradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求参数无效: "+err.Error())
		return
	}
	results, err := h.quizService.Grade(c.Request.Context(), req.Questions, req.Answers)
	if err != nil {
		fail(c, err)
		return
	}
	correct := 0
	for _, r := range results {
		if r.IsCorrect {
			correct++
		}
	}
	ok(c, http.StatusOK, "批改完成", gin.H{"results": results, "total": len(results), "correct": correct})
}
