package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/service"
)

// 上下文键
const (
	ContextOperator  = "operator"
	ContextSessionID = "sessionID"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireAuth 需要认证的中间件，认证关闭时直接放行
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authService.Enabled() {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			Abort(c, errors.New(errors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			Abort(c, errors.From(err))
			return
		}

		c.Set(ContextOperator, claims.Operator)
		c.Set(ContextSessionID, claims.SessionID)
		c.Next()
	}
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer xxx
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 查询参数，浏览器 WebSocket 无法设置请求头
	return c.Query("token")
}

// GetOperator 从上下文获取操作员
func GetOperator(c *gin.Context) string {
	return c.GetString(ContextOperator)
}
