package service

import (
	"context"
	"time"

	"github.com/wfunc/sdm3000/internal/utils"
)

// AuthService 操作员认证服务接口
type AuthService interface {
	// Enabled 未配置 JWT 密钥时认证关闭，所有接口放行
	Enabled() bool
	IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
	ValidateToken(ctx context.Context, token string) (*utils.OperatorClaims, error)
}

// TokenRequest 换取令牌请求
type TokenRequest struct {
	Operator string `json:"operator" binding:"required,max=64"`
	Key      string `json:"key" binding:"required"`
}

// TokenResponse 令牌响应
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}
