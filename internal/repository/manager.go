package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	serialLogOnce sync.Once
	serialLog     *SerialLogRepository

	dispenseOnce sync.Once
	dispense     DispenseRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// DB 获取数据库实例
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// SerialLog 获取串口帧日志仓储
func (m *Manager) SerialLog() *SerialLogRepository {
	m.serialLogOnce.Do(func() {
		m.serialLog = NewSerialLogRepository(m.db)
	})
	return m.serialLog
}

// Dispense 获取出钞审计仓储
func (m *Manager) Dispense() DispenseRepository {
	m.dispenseOnce.Do(func() {
		m.dispense = NewDispenseRepository(m.db)
	})
	return m.dispense
}
