package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/logger"
	"github.com/wfunc/sdm3000/internal/models"
	"github.com/wfunc/sdm3000/internal/repository"
)

const (
	defaultLogBuffer     = 1000
	defaultLogBatch      = 100
	defaultFlushInterval = 5 * time.Second
	cleanupInterval      = 24 * time.Hour
)

// SerialLogOptions 帧日志服务参数
type SerialLogOptions struct {
	FlushInterval time.Duration
	BatchSize     int
	RetentionDays int
}

// SerialLogService 串口帧日志服务，实现 hardware.FrameRecorder
type SerialLogService struct {
	repo      *repository.SerialLogRepository
	logger    *zap.Logger
	opts      SerialLogOptions
	bufferCh  chan *models.SerialLog
	sessionID string

	mu     sync.Mutex
	buffer []*models.SerialLog

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewSerialLogService 创建串口帧日志服务，需调用 Run 启动后台写入
func NewSerialLogService(repo *repository.SerialLogRepository, opts SerialLogOptions) *SerialLogService {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultLogBatch
	}
	return &SerialLogService{
		repo:      repo,
		logger:    logger.GetModuleLogger("database"),
		opts:      opts,
		bufferCh:  make(chan *models.SerialLog, defaultLogBuffer),
		buffer:    make([]*models.SerialLog, 0, opts.BatchSize),
		sessionID: uuid.New().String(),
	}
}

// SessionID 本次进程的会话ID
func (s *SerialLogService) SessionID() string {
	return s.sessionID
}

// RecordFrame 记录一帧，缓冲区满时丢弃
func (s *SerialLogService) RecordFrame(rec hardware.FrameRecord) {
	log := &models.SerialLog{
		CreatedAt:   rec.Timestamp,
		DevicePath:  rec.DevicePath,
		Direction:   models.SerialDirection(rec.Direction),
		Command:     int(rec.Command),
		CommandName: rec.Command.String(),
		HexData:     fmt.Sprintf("% X", rec.Raw),
		BytesCount:  len(rec.Raw),
		RequestID:   rec.RequestID,
		SessionID:   s.sessionID,
		Duration:    rec.Duration.Microseconds(),
	}
	if rec.Err != nil {
		log.ErrorMsg = rec.Err.Error()
	}
	if !rec.Timestamp.IsZero() {
		log.Timestamp = rec.Timestamp.UnixMilli()
	}

	select {
	case s.bufferCh <- log:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.logger.Warn("串口日志缓冲区满，丢弃日志", zap.Uint64("dropped", s.dropped.Load()))
		}
	}
}

// Dropped 因缓冲区满丢弃的条数
func (s *SerialLogService) Dropped() uint64 {
	return s.dropped.Load()
}

// Written 已写入数据库的条数
func (s *SerialLogService) Written() uint64 {
	return s.written.Load()
}

// Run 后台批量写入，ctx 取消后写完剩余日志再返回
func (s *SerialLogService) Run(ctx context.Context) error {
	// 写库不随 ctx 取消中断
	dbCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if s.opts.RetentionDays > 0 {
		s.cleanup(dbCtx)
		t := time.NewTicker(cleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			full := len(s.buffer) >= s.opts.BatchSize
			s.mu.Unlock()
			if full {
				s.flush(dbCtx)
			}

		case <-ticker.C:
			s.flush(dbCtx)

		case <-cleanup:
			s.cleanup(dbCtx)

		case <-ctx.Done():
			s.drain()
			flushCtx, cancel := context.WithTimeout(dbCtx, 5*time.Second)
			s.flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// drain 把通道中剩余日志移入缓冲区
func (s *SerialLogService) drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case log := <-s.bufferCh:
			s.buffer = append(s.buffer, log)
		default:
			return
		}
	}
}

// flush 写入缓冲区的日志到数据库
func (s *SerialLogService) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]*models.SerialLog, 0, s.opts.BatchSize)
	s.mu.Unlock()

	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		s.logger.Error("批量写入串口日志失败", zap.Int("count", len(batch)), zap.Error(err))
		return
	}
	s.written.Add(uint64(len(batch)))
	s.logger.Debug("批量写入串口日志成功", zap.Int("count", len(batch)))
}

func (s *SerialLogService) cleanup(ctx context.Context) {
	n, err := s.repo.CleanupLogs(ctx, s.opts.RetentionDays)
	if err != nil {
		s.logger.Error("清理串口日志失败", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("清理过期串口日志", zap.Int64("deleted", n), zap.Int("retention_days", s.opts.RetentionDays))
	}
}

// Query 查询日志
func (s *SerialLogService) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// GetStats 获取统计信息
func (s *SerialLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// GetLatestLogs 获取最新的日志
func (s *SerialLogService) GetLatestLogs(ctx context.Context, limit int, direction models.SerialDirection) ([]*models.SerialLog, error) {
	return s.repo.GetLatest(ctx, limit, direction)
}

// GetRequestLogs 一次设备操作的全部帧
func (s *SerialLogService) GetRequestLogs(ctx context.Context, requestID string) ([]*models.SerialLog, error) {
	return s.repo.GetByRequestID(ctx, requestID)
}

// CleanupOldLogs 清理旧日志
func (s *SerialLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(ctx, retentionDays)
}
