package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CassetteCount 出钞机钞箱数量
const CassetteCount = 8

// Counts 各钞箱出钞张数，下标0为1号钞箱
type Counts [CassetteCount]int

// Value 实现 driver.Valuer 接口
func (c Counts) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (c *Counts) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = Counts{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("counts: unsupported type %T", value)
	}
	return json.Unmarshal(raw, c)
}

// Total 总张数
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// CountsFromBytes 协议字节转换为计数
func CountsFromBytes(b []byte) Counts {
	var c Counts
	for i := 0; i < len(b) && i < CassetteCount; i++ {
		c[i] = int(b[i])
	}
	return c
}

// DispenseRecord 出钞审计记录
type DispenseRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	DevicePath string `gorm:"type:varchar(128);index" json:"device_path"`
	Counts     Counts `gorm:"type:varchar(128);not null" json:"counts"`
	TotalNotes int    `gorm:"default:0" json:"total_notes"`

	Success  bool   `gorm:"index" json:"success"`
	ErrorMsg string `gorm:"type:text" json:"error_msg,omitempty"`

	RequestID string `gorm:"type:varchar(64);index" json:"request_id,omitempty"`
	Operator  string `gorm:"type:varchar(64);index" json:"operator,omitempty"`
	Duration  int64  `gorm:"default:0" json:"duration"` // 毫秒
}

// TableName 指定表名
func (DispenseRecord) TableName() string {
	return "dispense_records"
}

// BeforeCreate 创建前的钩子
func (d *DispenseRecord) BeforeCreate(tx *gorm.DB) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.TotalNotes = d.Counts.Total()
	return nil
}

// DispenseTotals 成功出钞的累计统计
type DispenseTotals struct {
	Records    int64  `json:"records"`
	Failed     int64  `json:"failed"`
	Cassettes  Counts `json:"cassettes"`
	TotalNotes int    `json:"total_notes"`
}
