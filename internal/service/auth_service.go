package service

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/utils"
)

// authService 认证服务实现
type authService struct {
	jwtManager *utils.JWTManager
	keyHash    string
	log        *zap.Logger
}

// NewAuthService 创建认证服务，jwtManager 为空表示认证关闭
func NewAuthService(jwtManager *utils.JWTManager, keyHash string, log *zap.Logger) AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &authService{
		jwtManager: jwtManager,
		keyHash:    keyHash,
		log:        log,
	}
}

func (s *authService) Enabled() bool {
	return s.jwtManager != nil
}

// IssueToken 校验操作员密钥并签发令牌
func (s *authService) IssueToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if !s.Enabled() {
		return nil, errors.New(errors.ErrNotImplemented, "认证未启用")
	}
	if req == nil || req.Operator == "" || req.Key == "" {
		return nil, errors.New(errors.ErrInvalidParam, "operator 和 key 不能为空")
	}
	if s.keyHash == "" {
		s.log.Warn("未配置操作员密钥哈希，拒绝签发令牌")
		return nil, errors.New(errors.ErrAuthentication, "未配置操作员密钥")
	}

	ok, err := utils.VerifyPassword(req.Key, s.keyHash)
	if err != nil {
		s.log.Error("操作员密钥哈希格式错误", zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrAuthentication, "密钥校验失败")
	}
	if !ok {
		s.log.Warn("操作员密钥错误", zap.String("operator", req.Operator))
		return nil, errors.New(errors.ErrAuthentication, "操作员或密钥错误")
	}

	token, expiresAt, err := s.jwtManager.Generate(req.Operator, uuid.New().String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUnknown, "签发令牌失败")
	}

	s.log.Info("签发操作员令牌", zap.String("operator", req.Operator), zap.Time("expires_at", expiresAt))
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		ExpiresIn:   int64(s.jwtManager.Expiry().Seconds()),
	}, nil
}

// ValidateToken 验证令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.OperatorClaims, error) {
	if !s.Enabled() {
		return nil, errors.New(errors.ErrNotImplemented, "认证未启用")
	}
	claims, err := s.jwtManager.Validate(token)
	if err != nil {
		if stderrors.Is(err, utils.ErrExpiredToken) {
			return nil, errors.Wrap(err, errors.ErrTokenExpired)
		}
		return nil, errors.Wrap(err, errors.ErrTokenInvalid)
	}
	return claims, nil
}
