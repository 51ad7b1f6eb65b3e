package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// SerialDirection 帧方向
type SerialDirection string

const (
	SerialDirectionSend    SerialDirection = "SEND"    // 主机 -> 出钞机
	SerialDirectionReceive SerialDirection = "RECEIVE" // 出钞机 -> 主机
)

// JSONData 用于存储JSON格式的数据
type JSONData map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSONData) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口
func (j *JSONData) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return nil
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// SerialLog 串口帧日志，每个发送/接收的帧或控制字节一条
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	DevicePath string          `gorm:"type:varchar(128);index" json:"device_path"`
	Direction  SerialDirection `gorm:"type:varchar(10);index;not null" json:"direction"`

	// 命令，控制字节(ACK/NAK)没有命令号
	Command     int    `gorm:"index" json:"command"`
	CommandName string `gorm:"type:varchar(32);index" json:"command_name,omitempty"`

	HexData    string   `gorm:"type:text" json:"hex_data"`
	BytesCount int      `gorm:"default:0" json:"bytes_count"`
	ErrorMsg   string   `gorm:"type:text" json:"error_msg,omitempty"`
	Extra      JSONData `gorm:"type:text" json:"extra,omitempty"`

	RequestID string `gorm:"type:varchar(64);index" json:"request_id,omitempty"`
	SessionID string `gorm:"type:varchar(64);index" json:"session_id,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration"` // 微秒
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix毫秒
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}

// BeforeCreate 创建前的钩子
func (s *SerialLog) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Timestamp == 0 {
		s.Timestamp = s.CreatedAt.UnixMilli()
	}
	return nil
}

// SerialLogQuery 查询参数
type SerialLogQuery struct {
	Direction   SerialDirection `form:"direction" json:"direction,omitempty"`
	CommandName string          `form:"command" json:"command,omitempty"`
	DevicePath  string          `form:"device_path" json:"device_path,omitempty"`
	RequestID   string          `form:"request_id" json:"request_id,omitempty"`
	SessionID   string          `form:"session_id" json:"session_id,omitempty"`
	StartTime   *time.Time      `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00" json:"start_time,omitempty"`
	EndTime     *time.Time      `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00" json:"end_time,omitempty"`
	HasError    *bool           `form:"has_error" json:"has_error,omitempty"`
	Limit       int             `form:"limit" json:"limit,omitempty"`
	Offset      int             `form:"offset" json:"offset,omitempty"`
}

// SerialLogStats 统计信息
type SerialLogStats struct {
	TotalCount   int64   `json:"total_count"`
	TotalSend    int64   `json:"total_send"`
	TotalReceive int64   `json:"total_receive"`
	TotalErrors  int64   `json:"total_errors"`
	AvgDuration  float64 `json:"avg_duration"`
	MaxDuration  int64   `json:"max_duration"`
}
