// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"course-intake/pkg/log"
	"course-intake/pkg/token"

	"github.com/gin-gonic/gin"
)

const (
	ownerIDKey = "ownerID"
	claimsKey  = "claims"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 token，验证其有效性，并把用户 ID 存入 Gin 的上下文中。
// 浏览器的 websocket 无法设置请求头，因此也接受 ?token= 查询参数。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Token 通常以 "Bearer <token>" 的形式提供
			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
				return
			}
			tokenString = strings.TrimPrefix(authHeader, bearerPrefix)
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			log.Warnf("[Auth] token 校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		c.Set(ownerIDKey, claims.UserID)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OwnerID 返回认证中间件写入的用户 ID，未认证时返回 0。
func OwnerID(c *gin.Context) uint {
	return c.GetUint(ownerIDKey)
}
