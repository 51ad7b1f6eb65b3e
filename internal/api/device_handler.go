package api

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/middleware"
	"github.com/wfunc/sdm3000/internal/repository"
	"github.com/wfunc/sdm3000/internal/service"
)

// DeviceHandler 出钞机设备接口
type DeviceHandler struct {
	ctrl        *hardware.Controller
	dispense    *service.DispenseService
	defaultPort string
	listPorts   func() ([]string, error)
	logger      *zap.Logger
}

// ConnectRequest 连接请求
type ConnectRequest struct {
	DevicePath string `json:"device_path"`
	BaudRate   int    `json:"baud_rate"`
}

// DispenseRequest 出钞请求，counts[i] 为 i+1 号钞箱张数
type DispenseRequest struct {
	Counts []int `json:"counts" binding:"required"`
}

// PayloadResponse 设备返回的不透明数据
type PayloadResponse struct {
	Command string `json:"command"`
	Hex     string `json:"hex"`
	Bytes   []int  `json:"bytes"`
	Length  int    `json:"length"`
}

// NewDeviceHandler 创建设备接口
func NewDeviceHandler(ctrl *hardware.Controller, dispense *service.DispenseService, defaultPort string, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		ctrl:        ctrl,
		dispense:    dispense,
		defaultPort: defaultPort,
		listPorts:   hardware.ListPorts,
		logger:      logger,
	}
}

// RegisterRoutes 注册路由，改变设备状态的操作需要认证
func (h *DeviceHandler) RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc) {
	device := v1.Group("/device")
	{
		device.GET("", h.GetSnapshot)
		device.GET("/ports", h.ListPorts)
		device.GET("/cached-status", h.CachedStatus)
		device.GET("/status", h.ReadStatus)
		device.GET("/diagnostics", h.Diagnostics)
		device.GET("/last-status", h.LastStatus)

		device.POST("/connect", auth, h.Connect)
		device.POST("/disconnect", auth, h.Disconnect)
		device.POST("/reset", auth, h.Reset)
		device.POST("/dispense", auth, h.Dispense)
	}

	dispenses := v1.Group("/dispenses")
	{
		dispenses.GET("", h.ListDispenses)
		dispenses.GET("/totals", h.DispenseTotals)
	}
}

// GetSnapshot 控制器状态
func (h *DeviceHandler) GetSnapshot(c *gin.Context) {
	ok(c, h.ctrl.Snapshot())
}

// ListPorts 枚举本机串口
func (h *DeviceHandler) ListPorts(c *gin.Context) {
	ports, err := h.listPorts()
	if err != nil {
		fail(c, errors.Wrap(err, errors.ErrSerialPortOpen, "枚举串口失败"))
		return
	}
	ok(c, gin.H{"ports": ports, "default": h.defaultPort})
}

// Connect 打开串口
func (h *DeviceHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.DevicePath == "" {
		req.DevicePath = h.defaultPort
	}
	if req.BaudRate == 0 {
		req.BaudRate = hardware.DefaultBaudRate
	}

	if err := h.ctrl.Connect(c.Request.Context(), req.DevicePath, req.BaudRate); err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("API连接设备",
		zap.String("device", req.DevicePath),
		zap.Int("baud", req.BaudRate),
		zap.String("operator", middleware.GetOperator(c)))
	ok(c, h.ctrl.Snapshot())
}

// Disconnect 关闭串口
func (h *DeviceHandler) Disconnect(c *gin.Context) {
	if err := h.ctrl.Disconnect(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, h.ctrl.Snapshot())
}

// Reset 重置设备
func (h *DeviceHandler) Reset(c *gin.Context) {
	if err := h.ctrl.Reset(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"command": "RESET"})
}

// ReadStatus 读状态
func (h *DeviceHandler) ReadStatus(c *gin.Context) {
	data, err := h.ctrl.ReadStatus(c.Request.Context())
	h.payload(c, "READ_STATUS", data, err)
}

// Diagnostics 诊断
func (h *DeviceHandler) Diagnostics(c *gin.Context) {
	data, err := h.ctrl.Diagnostics(c.Request.Context())
	h.payload(c, "DIAGNOSTICS", data, err)
}

// LastStatus 最后状态
func (h *DeviceHandler) LastStatus(c *gin.Context) {
	data, err := h.ctrl.LastStatus(c.Request.Context())
	h.payload(c, "LAST_STATUS", data, err)
}

// CachedStatus 最近一次成功读到的状态，不访问设备
func (h *DeviceHandler) CachedStatus(c *gin.Context) {
	h.payload(c, "CACHED_STATUS", h.ctrl.CachedStatus(), nil)
}

func (h *DeviceHandler) payload(c *gin.Context, command string, data []byte, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	ints := make([]int, len(data))
	for i, b := range data {
		ints[i] = int(b)
	}
	ok(c, PayloadResponse{
		Command: command,
		Hex:     fmt.Sprintf("% X", data),
		Bytes:   ints,
		Length:  len(data),
	})
}

// Dispense 多钞箱出钞
func (h *DeviceHandler) Dispense(c *gin.Context) {
	var req DispenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	counts := make([]byte, len(req.Counts))
	for i, n := range req.Counts {
		if n < 0 || n > 255 {
			fail(c, errors.Newf(errors.ErrInvalidCounts, "cassette %d: count %d out of range 0-255", i+1, n))
			return
		}
		counts[i] = byte(n)
	}

	record, err := h.dispense.Dispense(c.Request.Context(), counts, middleware.GetOperator(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, record)
}

// ListDispenses 出钞审计列表
func (h *DeviceHandler) ListDispenses(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	pagination := repository.NewPagination(page, size)

	records, err := h.dispense.List(c.Request.Context(), pagination)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{
		"records":   records,
		"total":     pagination.Total,
		"page":      pagination.Page,
		"page_size": pagination.PageSize,
	})
}

// DispenseTotals 各钞箱累计
func (h *DeviceHandler) DispenseTotals(c *gin.Context) {
	totals, err := h.dispense.Totals(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, totals)
}
