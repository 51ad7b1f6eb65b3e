package hardware

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/logger"
)

// Reconnector 检测到链路断开后按退避间隔重新连接最后使用的串口
type Reconnector struct {
	ctrl        *Controller
	interval    time.Duration
	maxInterval time.Duration
	checkPath   bool // 重连前检查设备文件是否存在
	logger      *zap.Logger

	// 手动断开后放弃正在进行的重连
	halted atomic.Bool

	reconnectCh chan struct{}
}

// NewReconnector 创建重连器并注册到控制器
func NewReconnector(ctrl *Controller, interval, maxInterval time.Duration, checkPath bool) *Reconnector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxInterval < interval {
		maxInterval = interval
	}
	r := &Reconnector{
		ctrl:        ctrl,
		interval:    interval,
		maxInterval: maxInterval,
		checkPath:   checkPath,
		logger:      logger.GetModuleLogger("serial"),
		reconnectCh: make(chan struct{}, 1),
	}
	ctrl.AddListener(r.onEvent)
	return r
}

func (r *Reconnector) onEvent(ev Event) {
	switch {
	case ev.Type == EventStateChanged && ev.Reason == ReasonLinkLost:
		r.halted.Store(false)
		r.Trigger()
	case ev.Type == EventOperation && ev.Operation == OpDisconnect:
		r.halted.Store(true)
	}
}

// Trigger 请求一次重连
func (r *Reconnector) Trigger() {
	select {
	case r.reconnectCh <- struct{}{}:
	default:
		// 已经有重连请求在队列中
	}
}

// Run 重连循环，ctx 取消后返回
func (r *Reconnector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("停止重连循环")
			return nil
		case <-r.reconnectCh:
			r.reconnect(ctx)
		}
	}
}

func (r *Reconnector) reconnect(ctx context.Context) {
	snap := r.ctrl.Snapshot()
	if snap.DevicePath == "" || snap.State != StateDisconnected {
		return
	}

	interval := r.interval
	for retry := 1; ; retry++ {
		if err := sleepCtx(ctx, interval); err != nil {
			return
		}

		// 期间被手动连接或断开
		if r.halted.Load() || r.ctrl.State() != StateDisconnected {
			return
		}

		if r.checkPath && !SerialPortExists(snap.DevicePath) {
			r.logger.Warn("设备不存在，等待重试",
				zap.String("device", snap.DevicePath),
				zap.Int("retry", retry),
				zap.Duration("interval", interval))
		} else if err := r.ctrl.Connect(ctx, snap.DevicePath, snap.BaudRate); err != nil {
			r.logger.Warn("重连失败，等待重试",
				zap.String("device", snap.DevicePath),
				zap.Int("retry", retry),
				zap.Error(err),
				zap.Duration("interval", interval))
		} else {
			r.logger.Info("重连成功",
				zap.String("device", snap.DevicePath),
				zap.Int("retry_count", retry))
			return
		}

		// 逐渐增加重连间隔
		interval *= 2
		if interval > r.maxInterval {
			interval = r.maxInterval
		}
	}
}
