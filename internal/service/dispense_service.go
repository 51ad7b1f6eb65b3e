package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/logger"
	"github.com/wfunc/sdm3000/internal/models"
	"github.com/wfunc/sdm3000/internal/protocol"
	"github.com/wfunc/sdm3000/internal/repository"
)

// DispenseService 出钞并记录审计
type DispenseService struct {
	ctrl   *hardware.Controller
	repo   repository.DispenseRepository
	logger *zap.Logger
}

// NewDispenseService 创建出钞服务，repo 为空时不落库
func NewDispenseService(ctrl *hardware.Controller, repo repository.DispenseRepository) *DispenseService {
	return &DispenseService{
		ctrl:   ctrl,
		repo:   repo,
		logger: logger.GetModuleLogger("serial"),
	}
}

// Dispense 执行出钞。命令发到线路上的请求无论成败都写入审计记录；
// 长度不为8、设备未连接或线路被占用的请求没有发出，不记录。
func (s *DispenseService) Dispense(ctx context.Context, counts []byte, operator string) (*models.DispenseRecord, error) {
	if len(counts) != protocol.CassetteCount {
		return nil, s.ctrl.MultiDispense(ctx, counts)
	}

	requestID := hardware.RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = hardware.WithRequestID(ctx, requestID)
	}

	start := time.Now()
	err := s.ctrl.MultiDispense(ctx, counts)
	if errors.Is(err, errors.ErrDeviceOffline) || errors.Is(err, errors.ErrDeviceBusy) {
		return nil, err
	}

	record := &models.DispenseRecord{
		DevicePath: s.ctrl.DevicePath(),
		Counts:     models.CountsFromBytes(counts),
		Success:    err == nil,
		RequestID:  requestID,
		Operator:   operator,
		Duration:   time.Since(start).Milliseconds(),
	}
	if err != nil {
		record.ErrorMsg = err.Error()
	}
	record.TotalNotes = record.Counts.Total()

	if s.repo != nil {
		// 审计写入失败不影响出钞结果
		if dbErr := s.repo.Create(context.WithoutCancel(ctx), record); dbErr != nil {
			s.logger.Error("出钞审计写入失败",
				zap.String("request_id", requestID),
				zap.Error(dbErr))
		}
	}

	if err != nil {
		return record, err
	}
	return record, nil
}

// List 分页列出审计记录
func (s *DispenseService) List(ctx context.Context, pagination *repository.Pagination) ([]*models.DispenseRecord, error) {
	if s.repo == nil {
		return nil, errors.New(errors.ErrNotImplemented, "出钞审计未启用")
	}
	records, err := s.repo.List(ctx, pagination)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return records, nil
}

// Totals 各钞箱累计出钞
func (s *DispenseService) Totals(ctx context.Context) (*models.DispenseTotals, error) {
	if s.repo == nil {
		return nil, errors.New(errors.ErrNotImplemented, "出钞审计未启用")
	}
	totals, err := s.repo.Totals(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery)
	}
	return totals, nil
}
