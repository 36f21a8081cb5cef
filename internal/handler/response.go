// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"dodream-rag-go/internal/middleware"
	"dodream-rag-go/pkg/errs"
	"dodream-rag-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 对外返回的错误信息最多保留的字符数。
const errorSnippetRunes = 200

var kindStatus = map[errs.Kind]int{
	errs.InvalidIdentifier:     http.StatusBadRequest,
	errs.EmptyInput:            http.StatusBadRequest,
	errs.UnrecognizedSchema:    http.StatusUnprocessableEntity,
	errs.NotFound:              http.StatusNotFound,
	errs.CollectionNotFound:    http.StatusNotFound,
	errs.ModelUnavailable:      http.StatusServiceUnavailable,
	errs.DownloadFailed:        http.StatusBadGateway,
	errs.GenerationParseFailed: http.StatusInternalServerError,
	errs.InsufficientQuestions: http.StatusInternalServerError,
	errs.RetryExhausted:        http.StatusInternalServerError,
	errs.Internal:              http.StatusInternalServerError,
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message})
}

// fail 按错误分类返回状态码，错误信息截断后返回给调用方。
func fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status, found := kindStatus[kind]
	if !found {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"code":       status,
		"message":    errs.Snippet(err, errorSnippetRunes),
		"error_kind": kind,
	})
}

func currentUser(c *gin.Context) (uint, bool) {
	id, found := middleware.UserID(c)
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无法获取用户信息"})
	}
	return id, found
}
