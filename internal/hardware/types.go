package hardware

import (
	"context"
	"time"

	"github.com/wfunc/sdm3000/internal/protocol"
)

// State 控制器连接状态
type State int

const (
	StateDisconnected State = iota // 未连接
	StateConnecting                // 正在打开串口
	StateIdle                      // 已连接，空闲
	StateBusy                      // 命令执行中
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// MarshalText JSON 中以名称输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connected 已连接（空闲或忙）
func (s State) Connected() bool {
	return s == StateIdle || s == StateBusy
}

// Direction 帧方向
type Direction string

const (
	DirectionSend    Direction = "SEND"    // 主机 -> 设备
	DirectionReceive Direction = "RECEIVE" // 设备 -> 主机
)

// FrameRecord 一次串口收发记录
type FrameRecord struct {
	Direction  Direction
	Command    protocol.Command
	Raw        []byte
	Err        error
	Duration   time.Duration
	RequestID  string
	DevicePath string
	Timestamp  time.Time
}

// FrameRecorder 接收串口收发记录，实现方不得阻塞
type FrameRecorder interface {
	RecordFrame(rec FrameRecord)
}

// EventType 控制器事件类型
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventOperation    EventType = "operation"
)

// 非命令类操作名称
const (
	OpConnect    = "CONNECT"
	OpDisconnect = "DISCONNECT"
)

// 状态变化原因
const (
	ReasonConnect    = "connect"
	ReasonDisconnect = "disconnect"
	ReasonOpenFailed = "open_failed"
	ReasonLinkLost   = "link_lost"
	ReasonCommand    = "command"
)

// Event 控制器事件
type Event struct {
	Type       EventType `json:"type"`
	State      State     `json:"state"`
	Previous   State     `json:"previous"`
	Reason     string    `json:"reason,omitempty"`
	DevicePath string    `json:"device_path,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Data       []byte    `json:"data,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventListener 事件回调，在调用方 goroutine 中同步执行
type EventListener func(Event)

// Snapshot 控制器状态快照
type Snapshot struct {
	State          State      `json:"state"`
	DevicePath     string     `json:"device_path,omitempty"`
	BaudRate       int        `json:"baud_rate,omitempty"`
	Port           string     `json:"port,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	LastCommand    string     `json:"last_command,omitempty"`
	LastCommandAt  *time.Time `json:"last_command_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	FramesSent     uint64     `json:"frames_sent"`
	FramesReceived uint64     `json:"frames_received"`
	NAKs           uint64     `json:"naks"`
	Retries        uint64     `json:"retries"`
	Errors         uint64     `json:"errors"`
	CachedStatus   []byte     `json:"cached_status,omitempty"`
}

type requestIDKey struct{}

// WithRequestID 将请求ID放入 context，随帧记录落库
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 取出请求ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
