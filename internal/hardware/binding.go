package hardware

import (
	"context"
	"sync"
	"time"
)

// DefaultOperationTimeout 绑定层每个操作的超时
const DefaultOperationTimeout = 30 * time.Second

// Device 面向调用方的设备绑定层：布尔或字节结果，失败原因通过 LastError 获取
type Device struct {
	ctrl    *Controller
	timeout time.Duration

	mu      sync.Mutex
	lastErr error
}

// NewDevice 创建绑定层
func NewDevice(ctrl *Controller) *Device {
	return &Device{ctrl: ctrl, timeout: DefaultOperationTimeout}
}

// SetTimeout 设置单个操作的超时
func (d *Device) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// Controller 返回底层控制器
func (d *Device) Controller() *Controller {
	return d.ctrl
}

// Connect 连接设备
func (d *Device) Connect(devicePath string, baudRate int) bool {
	ctx, cancel := d.context()
	defer cancel()
	return d.done(d.ctrl.Connect(ctx, devicePath, baudRate))
}

// ConnectDefault 以 9600 波特率连接
func (d *Device) ConnectDefault(devicePath string) bool {
	return d.Connect(devicePath, DefaultBaudRate)
}

// Disconnect 断开连接
func (d *Device) Disconnect() bool {
	ctx, cancel := d.context()
	defer cancel()
	return d.done(d.ctrl.Disconnect(ctx))
}

// Reset 重置设备
func (d *Device) Reset() bool {
	ctx, cancel := d.context()
	defer cancel()
	return d.done(d.ctrl.Reset(ctx))
}

// ReadStatus 读状态，失败返回 nil
func (d *Device) ReadStatus() []byte {
	ctx, cancel := d.context()
	defer cancel()
	data, err := d.ctrl.ReadStatus(ctx)
	return d.bytes(data, err)
}

// Diagnostics 读诊断数据，失败返回 nil
func (d *Device) Diagnostics() []byte {
	ctx, cancel := d.context()
	defer cancel()
	data, err := d.ctrl.Diagnostics(ctx)
	return d.bytes(data, err)
}

// LastStatus 读最后状态，失败返回 nil
func (d *Device) LastStatus() []byte {
	ctx, cancel := d.context()
	defer cancel()
	data, err := d.ctrl.LastStatus(ctx)
	return d.bytes(data, err)
}

// MultiDispense 多钞箱出钞
func (d *Device) MultiDispense(counts []byte) bool {
	ctx, cancel := d.context()
	defer cancel()
	return d.done(d.ctrl.MultiDispense(ctx, counts))
}

// LastError 最近一次失败的原因，成功后清空
func (d *Device) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Device) context() (context.Context, context.CancelFunc) {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()
	return context.WithTimeout(context.Background(), timeout)
}

func (d *Device) done(err error) bool {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
	return err == nil
}

func (d *Device) bytes(data []byte, err error) []byte {
	if !d.done(err) {
		return nil
	}
	if data == nil {
		return []byte{}
	}
	return data
}
