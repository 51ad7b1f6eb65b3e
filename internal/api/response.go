package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/middleware"
)

// Response 统一成功响应
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		RequestID: middleware.GetRequestID(c),
	})
}

// fail 输出错误，非 AppError 归为未知错误
func fail(c *gin.Context, err error) {
	middleware.Abort(c, errors.From(err))
}

func badRequest(c *gin.Context, err error) {
	middleware.Abort(c, errors.Wrap(err, errors.ErrInvalidParam))
}
