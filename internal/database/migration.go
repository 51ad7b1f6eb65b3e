package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/logger"
	"github.com/wfunc/sdm3000/internal/models"
)

// Models 需要迁移的模型
func Models() []interface{} {
	return []interface{}{
		&models.SerialLog{},
		&models.DispenseRecord{},
	}
}

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New(errors.ErrDatabaseConnect, "数据库未初始化")
	}

	// 文件型 sqlite 需要迁移锁
	if path := sqliteFile(db); path != "" {
		lockFile, err := acquireMigrationLock(path)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return errors.Wrap(err, errors.ErrDatabaseConnect, "获取迁移锁失败")
		}
		defer releaseMigrationLock(lockFile)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseQuery, "数据库迁移失败")
	}

	logger.Info("数据库迁移完成", zap.Int("tables", len(Models())))
	return nil
}
