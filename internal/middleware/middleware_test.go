package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/service"
	"github.com/wfunc/sdm3000/internal/utils"
)

// MockAuthService 认证服务mock
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *MockAuthService) IssueToken(ctx context.Context, req *service.TokenRequest) (*service.TokenResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*service.TokenResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*utils.OperatorClaims, error) {
	args := m.Called(ctx, token)
	if claims := args.Get(0); claims != nil {
		return claims.(*utils.OperatorClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

func newEngine(auth service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(), RequestID())
	r.GET("/guarded", NewAuthMiddleware(auth).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, GetOperator(c))
	})
	r.GET("/trace", func(c *gin.Context) {
		c.String(http.StatusOK, hardware.RequestIDFrom(c.Request.Context()))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func serve(r *gin.Engine, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth_Disabled(t *testing.T) {
	auth := new(MockAuthService)
	auth.On("Enabled").Return(false)

	w := serve(newEngine(auth), "/guarded")
	assert.Equal(t, http.StatusOK, w.Code)
	auth.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
}

func TestRequireAuth_TokenSources(t *testing.T) {
	auth := new(MockAuthService)
	auth.On("Enabled").Return(true)
	auth.On("ValidateToken", mock.Anything, "good").Return(&utils.OperatorClaims{Operator: "ops"}, nil)

	r := newEngine(auth)

	w := serve(r, "/guarded", "Authorization", "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops", w.Body.String())

	w = serve(r, "/guarded", "X-Access-Token", "good")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, "/guarded?token=good")
	assert.Equal(t, http.StatusOK, w.Code)

	auth.AssertNumberOfCalls(t, "ValidateToken", 3)
}

func TestRequireAuth_Rejected(t *testing.T) {
	auth := new(MockAuthService)
	auth.On("Enabled").Return(true)
	auth.On("ValidateToken", mock.Anything, "stale").Return(nil, errors.New(errors.ErrTokenExpired))

	r := newEngine(auth)

	w := serve(r, "/guarded")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":7000`)

	w = serve(r, "/guarded", "Authorization", "Bearer stale")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	auth.AssertExpectations(t)
}

func TestRequestID(t *testing.T) {
	r := newEngine(new(MockAuthService))

	w := serve(r, "/trace", HeaderRequestID, "abc-123")
	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	w = serve(r, "/trace")
	assert.Len(t, w.Body.String(), 36, "自动生成 uuid")
	assert.Equal(t, w.Body.String(), w.Header().Get(HeaderRequestID))
}

func TestRecovery(t *testing.T) {
	w := serve(newEngine(new(MockAuthService)), "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}
