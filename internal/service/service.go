package service

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/repository"
	"github.com/wfunc/sdm3000/internal/utils"
)

// Services 服务集合
type Services struct {
	Auth      AuthService
	Dispense  *DispenseService
	SerialLog *SerialLogService // 未启用帧日志或无数据库时为 nil
}

// NewServices 创建服务集合，db 为空时只提供认证和不落库的出钞
func NewServices(cfg *config.Config, db *gorm.DB, ctrl *hardware.Controller, log *zap.Logger) *Services {
	var jwtManager *utils.JWTManager
	if cfg.Security.JWT.Secret != "" {
		jwtManager = utils.NewJWTManager(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour)
	}

	s := &Services{
		Auth: NewAuthService(jwtManager, cfg.Security.OperatorKeyHash, log),
	}

	if db == nil {
		s.Dispense = NewDispenseService(ctrl, nil)
		return s
	}

	repos := repository.NewManager(db)
	s.Dispense = NewDispenseService(ctrl, repos.Dispense())
	if cfg.SerialLog.Enabled {
		s.SerialLog = NewSerialLogService(repos.SerialLog(), SerialLogOptions{
			FlushInterval: cfg.SerialLog.FlushInterval,
			BatchSize:     cfg.SerialLog.BatchSize,
			RetentionDays: cfg.SerialLog.RetentionDays,
		})
		ctrl.SetRecorder(s.SerialLog)
	}
	return s
}
