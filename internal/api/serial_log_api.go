package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/models"
	"github.com/wfunc/sdm3000/internal/service"
)

// SerialLogAPI 串口帧日志API
type SerialLogAPI struct {
	service *service.SerialLogService
}

// NewSerialLogAPI 创建串口帧日志API，service 为空时接口返回 501
func NewSerialLogAPI(service *service.SerialLogService) *SerialLogAPI {
	return &SerialLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup, auth gin.HandlerFunc) {
	logs := router.Group("/serial-logs")
	logs.Use(api.enabled)
	{
		logs.GET("", api.QueryLogs)                  // 查询日志列表
		logs.GET("/latest", api.GetLatestLogs)       // 获取最新日志
		logs.GET("/stats", api.GetStats)             // 获取统计信息
		logs.GET("/request/:id", api.GetRequestLogs) // 一次操作的全部帧
		logs.POST("/cleanup", auth, api.CleanupLogs) // 清理旧日志
	}
}

func (api *SerialLogAPI) enabled(c *gin.Context) {
	if api.service == nil {
		fail(c, errors.New(errors.ErrNotImplemented, "帧日志未启用"))
		return
	}
	c.Next()
}

// QueryLogs 查询日志列表
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	query := &models.SerialLogQuery{}
	if err := c.ShouldBindQuery(query); err != nil {
		badRequest(c, err)
		return
	}
	if query.Limit <= 0 {
		query.Limit = 20
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	ok(c, gin.H{
		"logs":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatestLogs 获取最新日志
func (api *SerialLogAPI) GetLatestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	direction := models.SerialDirection(c.Query("direction"))

	logs, err := api.service.GetLatestLogs(c.Request.Context(), limit, direction)
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	ok(c, gin.H{"logs": logs, "count": len(logs)})
}

// GetStats 获取统计信息
func (api *SerialLogAPI) GetStats(c *gin.Context) {
	var startTime, endTime *time.Time

	if start := c.Query("start_time"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			badRequest(c, err)
			return
		}
		startTime = &t
	}
	if end := c.Query("end_time"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			badRequest(c, err)
			return
		}
		endTime = &t
	}

	stats, err := api.service.GetStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	ok(c, stats)
}

// GetRequestLogs 按请求ID获取帧
func (api *SerialLogAPI) GetRequestLogs(c *gin.Context) {
	logs, err := api.service.GetRequestLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	ok(c, gin.H{"logs": logs, "count": len(logs)})
}

// CleanupLogs 清理旧日志
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("retention_days", "30"))
	if err != nil || days <= 0 {
		fail(c, errors.New(errors.ErrInvalidParam, "retention_days 必须为正整数"))
		return
	}

	deleted, err := api.service.CleanupOldLogs(c.Request.Context(), days)
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrDatabaseDelete))
		return
	}
	ok(c, gin.H{"deleted": deleted, "retention_days": days})
}
