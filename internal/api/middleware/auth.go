package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Cooper3516833584/Cooper-bot/pkg/response"
)

// AdminAuth 管理接口鉴权：Authorization: Bearer <admin_token>
// 未配置 token 时拒绝所有请求
func AdminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, response.CodeUnauthorized, "缺少认证头")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, response.CodeUnauthorized, "认证头格式无效")
			c.Abort()
			return
		}

		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(parts[1]), want) != 1 {
			response.Unauthorized(c, response.CodeUnauthorized, "Token 无效")
			c.Abort()
			return
		}

		c.Next()
	}
}
