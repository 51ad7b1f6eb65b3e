package repository

import (
	"context"
	stderrors "errors"

	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/models"
)

// ErrRecordNotFound 记录不存在
var ErrRecordNotFound = stderrors.New("记录不存在")

// DispenseRepository 出钞审计仓储接口
type DispenseRepository interface {
	Create(ctx context.Context, record *models.DispenseRecord) error
	FindByID(ctx context.Context, id uint) (*models.DispenseRecord, error)
	FindByRequestID(ctx context.Context, requestID string) (*models.DispenseRecord, error)
	List(ctx context.Context, pagination *Pagination) ([]*models.DispenseRecord, error)
	Totals(ctx context.Context) (*models.DispenseTotals, error)
}

type dispenseRepo struct {
	*BaseRepo
}

// NewDispenseRepository 创建出钞审计仓储
func NewDispenseRepository(db *gorm.DB) DispenseRepository {
	return &dispenseRepo{BaseRepo: &BaseRepo{db: db}}
}

// Create 创建出钞记录
func (r *dispenseRepo) Create(ctx context.Context, record *models.DispenseRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "dispense_records")
	}
	return nil
}

// FindByID 根据ID查找
func (r *dispenseRepo) FindByID(ctx context.Context, id uint) (*models.DispenseRecord, error) {
	var record models.DispenseRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindByRequestID 根据请求ID查找
func (r *dispenseRepo) FindByRequestID(ctx context.Context, requestID string) (*models.DispenseRecord, error) {
	var record models.DispenseRecord
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&record).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// List 按时间倒序分页列出
func (r *dispenseRepo) List(ctx context.Context, pagination *Pagination) ([]*models.DispenseRecord, error) {
	if pagination == nil {
		pagination = NewPagination(1, 0)
	}
	query := r.db.WithContext(ctx).Model(&models.DispenseRecord{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	pagination.Total = total

	var records []*models.DispenseRecord
	err := query.Scopes(Paginate(pagination)).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	return records, err
}

// Totals 统计成功出钞的各钞箱累计张数
func (r *dispenseRepo) Totals(ctx context.Context) (*models.DispenseTotals, error) {
	totals := &models.DispenseTotals{}
	db := r.db.WithContext(ctx).Model(&models.DispenseRecord{})

	if err := db.Count(&totals.Records).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.DispenseRecord{}).
		Where("success = ?", false).
		Count(&totals.Failed).Error; err != nil {
		return nil, err
	}

	// 计数以JSON存储，逐批累加
	var batch []*models.DispenseRecord
	err := r.db.WithContext(ctx).
		Select("id", "counts").
		Where("success = ?", true).
		FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				for i, n := range rec.Counts {
					totals.Cassettes[i] += n
				}
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	totals.TotalNotes = totals.Cassettes.Total()
	return totals, nil
}
