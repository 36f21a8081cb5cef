package handler

import (
	"dodream-rag-go/internal/middleware"
	"dodream-rag-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Handlers 汇总所有控制器。
type Handlers struct {
	RAG  *RAGHandler
	Chat *ChatHandler
	Quiz *QuizHandler
}

// RegisterRoutes 在 /api/v1/rag 下注册全部路由，所有路由都需要认证。
func RegisterRoutes(r *gin.Engine, verifier *token.Verifier, h Handlers) {
	rag := r.Group("/api/v1/rag")
	rag.Use(middleware.AuthMiddleware(verifier))
	{
		// 入库需要 TEACHER 角色
		embeddings := rag.Group("/embeddings")
		embeddings.Use(middleware.RequireRole(middleware.RoleTeacher))
		{
			embeddings.POST("", h.RAG.CreateEmbedding)
			embeddings.POST("/initial", h.RAG.CreateInitialEmbedding)
		}
		rag.GET("/tasks/:handle", h.RAG.GetTask)

		rag.POST("/chat", h.Chat.Chat)
		rag.GET("/chat/stream", h.Chat.Stream)

		sessions := rag.Group("/sessions")
		{
			sessions.GET("", h.Chat.ListSessions)
			sessions.GET("/:id", h.Chat.GetSession)
			sessions.DELETE("/:id", h.Chat.DeleteSession)
		}

		quiz := rag.Group("/quiz")
		{
			quiz.POST("/generate", h.Quiz.Generate)
			quiz.POST("/grade", h.Quiz.Grade)
		}
	}
}
