package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RoleTeacher 是允许触发教材入库的角色。
const RoleTeacher = "TEACHER"

// RequireRole 检查调用方是否具有指定角色。
// 此中间件必须在 AuthMiddleware 之后使用。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(ContextRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
			return
		}
		if current, _ := v.(string); current != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "权限不足，需要 " + role + " 角色"})
			return
		}
		c.Next()
	}
}
