package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/models"
)

// SerialLogRepository 串口帧日志仓库
type SerialLogRepository struct {
	*BaseRepo
}

// NewSerialLogRepository 创建串口帧日志仓库
func NewSerialLogRepository(db *gorm.DB) *SerialLogRepository {
	return &SerialLogRepository{BaseRepo: &BaseRepo{db: db}}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(ctx context.Context, log *models.SerialLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "serial_logs")
	}
	return nil
}

// CreateBatch 批量创建日志记录
func (r *SerialLogRepository) CreateBatch(ctx context.Context, logs []*models.SerialLog) error {
	if len(logs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(logs, 100).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "serial_logs")
	}
	return nil
}

// GetByID 根据ID获取日志
func (r *SerialLogRepository) GetByID(ctx context.Context, id uint) (*models.SerialLog, error) {
	var log models.SerialLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// GetByRequestID 一次设备操作的全部帧，按时间顺序
func (r *SerialLogRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.SerialLog, error) {
	var logs []*models.SerialLog
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC, id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询日志，返回当前页和总数
func (r *SerialLogRepository) Query(ctx context.Context, query *models.SerialLogQuery) ([]*models.SerialLog, int64, error) {
	db := r.filter(r.db.WithContext(ctx).Model(&models.SerialLog{}), query)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order("timestamp DESC, id DESC")
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.SerialLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *SerialLogRepository) filter(db *gorm.DB, query *models.SerialLogQuery) *gorm.DB {
	if query == nil {
		return db
	}
	if query.Direction != "" {
		db = db.Where("direction = ?", query.Direction)
	}
	if query.CommandName != "" {
		db = db.Where("command_name = ?", query.CommandName)
	}
	if query.DevicePath != "" {
		db = db.Where("device_path = ?", query.DevicePath)
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("timestamp >= ?", query.StartTime.UnixMilli())
	}
	if query.EndTime != nil {
		db = db.Where("timestamp <= ?", query.EndTime.UnixMilli())
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}
	return db
}

// GetStats 获取统计信息
func (r *SerialLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.SerialLogStats, error) {
	stats := &models.SerialLogStats{}
	scope := func() *gorm.DB {
		return r.filter(r.db.WithContext(ctx).Model(&models.SerialLog{}), &models.SerialLogQuery{
			StartTime: startTime,
			EndTime:   endTime,
		})
	}

	if err := scope().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := scope().Where("direction = ?", models.SerialDirectionSend).Count(&stats.TotalSend).Error; err != nil {
		return nil, err
	}
	stats.TotalReceive = stats.TotalCount - stats.TotalSend

	if err := scope().Where("error_msg IS NOT NULL AND error_msg != ''").Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 性能统计
	var durationStats struct {
		AvgDuration float64
		MaxDuration int64
	}
	if err := scope().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration").
		Where("duration > 0").
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration

	return stats, nil
}

// GetLatest 获取最新的日志记录
func (r *SerialLogRepository) GetLatest(ctx context.Context, limit int, direction models.SerialDirection) ([]*models.SerialLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []*models.SerialLog
	db := r.db.WithContext(ctx).Order("timestamp DESC, id DESC").Limit(limit)
	if direction != "" {
		db = db.Where("direction = ?", direction)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧日志
func (r *SerialLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", beforeTime.UnixMilli()).
		Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *SerialLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteOldLogs(ctx, time.Now().AddDate(0, 0, -retentionDays))
}
