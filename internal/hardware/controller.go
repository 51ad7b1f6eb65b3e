package hardware

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/logger"
	"github.com/wfunc/sdm3000/internal/protocol"
)

// Options 控制器参数
type Options struct {
	Opener        Opener
	DataBits      int
	StopBits      int
	Parity        string
	ReadTimeout   time.Duration // 单次串口读的超时，决定 ctx 取消的响应速度
	AckTimeout    time.Duration // 等待 ACK/NAK 的时间
	ReplyTimeout  time.Duration // 等待应答帧的时间
	RetryTimes    int           // NAK 或校验失败时的最大发送次数
	RetryInterval time.Duration
	Recorder      FrameRecorder
}

// OptionsFrom 根据配置生成控制器参数
func OptionsFrom(cfg *config.SerialConfig) (Options, error) {
	opener, err := NewOpener(cfg.Driver)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Opener:        opener,
		DataBits:      cfg.DataBits,
		StopBits:      cfg.StopBits,
		Parity:        cfg.Parity,
		ReadTimeout:   cfg.ReadTimeout,
		AckTimeout:    cfg.AckTimeout,
		ReplyTimeout:  cfg.ReplyTimeout,
		RetryTimes:    cfg.RetryTimes,
		RetryInterval: cfg.RetryInterval,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Opener == nil {
		o.Opener = OpenTarm
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = time.Second
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 5 * time.Second
	}
	if o.RetryTimes < 1 {
		o.RetryTimes = 3
	}
	return o
}

// Controller SDM-3000 控制器，一个控制器独占一个串口
type Controller struct {
	opts   Options
	logger *zap.Logger

	// 串口事务锁，同一时间只有一条命令在线路上
	line chan struct{}

	mu            sync.RWMutex
	state         State
	port          SerialPort
	portCfg       PortConfig
	connectedAt   time.Time
	lastCommand   string
	lastCommandAt time.Time
	lastError     string
	cachedStatus  []byte
	stats         struct {
		framesSent, framesReceived, naks, retries, errors uint64
	}

	listenerMu sync.RWMutex
	listeners  []EventListener

	// 仅在持有 line 时访问
	rx      []byte
	readBuf [64]byte
}

// NewController 创建控制器
func NewController(opts Options) *Controller {
	return &Controller{
		opts:   opts.withDefaults(),
		logger: logger.GetModuleLogger("serial"),
		line:   make(chan struct{}, 1),
		state:  StateDisconnected,
	}
}

// SetRecorder 设置帧记录器
func (c *Controller) SetRecorder(r FrameRecorder) {
	c.mu.Lock()
	c.opts.Recorder = r
	c.mu.Unlock()
}

// AddListener 注册事件监听
func (c *Controller) AddListener(l EventListener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// DevicePath 当前（或最后一次）连接的设备路径
func (c *Controller) DevicePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.portCfg.Path
}

// Snapshot 返回状态快照
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		State:          c.state,
		DevicePath:     c.portCfg.Path,
		BaudRate:       c.portCfg.BaudRate,
		LastCommand:    c.lastCommand,
		LastError:      c.lastError,
		FramesSent:     c.stats.framesSent,
		FramesReceived: c.stats.framesReceived,
		NAKs:           c.stats.naks,
		Retries:        c.stats.retries,
		Errors:         c.stats.errors,
		CachedStatus:   cloneBytes(c.cachedStatus),
	}
	if c.portCfg.Path != "" {
		s.Port = describePort(c.portCfg)
	}
	if c.state.Connected() {
		t := c.connectedAt
		s.ConnectedAt = &t
	}
	if !c.lastCommandAt.IsZero() {
		t := c.lastCommandAt
		s.LastCommandAt = &t
	}
	return s
}

// CachedStatus 最近一次成功读状态的结果，没有时返回 nil
func (c *Controller) CachedStatus() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneBytes(c.cachedStatus)
}

// Connect 打开串口。已按相同路径和波特率连接时直接返回成功。
func (c *Controller) Connect(ctx context.Context, path string, baud int) error {
	if path == "" {
		return errors.New(errors.ErrInvalidParam, "device path is empty")
	}
	if baud <= 0 {
		return errors.Newf(errors.ErrInvalidParam, "invalid baud rate %d", baud)
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	if c.state != StateDisconnected {
		current := c.portCfg.Path
		currentBaud := c.portCfg.BaudRate
		c.mu.Unlock()
		if current == path && currentBaud == baud {
			return nil
		}
		return errors.Newf(errors.ErrAlreadyConnected, "connected to %s at %d baud", current, currentBaud)
	}
	pc := PortConfig{
		Path:        path,
		BaudRate:    baud,
		DataBits:    c.opts.DataBits,
		StopBits:    c.opts.StopBits,
		Parity:      c.opts.Parity,
		ReadTimeout: c.opts.ReadTimeout,
	}.withDefaults()
	c.portCfg = pc
	c.mu.Unlock()

	c.setState(StateConnecting, ReasonConnect)

	port, err := c.opts.Opener(pc)
	if err != nil {
		c.logger.Error("打开串口失败",
			zap.String("port", path),
			zap.Int("baud_rate", baud),
			zap.Error(err))
		c.noteError(err)
		c.setState(StateDisconnected, ReasonOpenFailed)
		err = errors.Wrap(err, errors.ErrSerialPortOpen)
		c.emit(Event{Type: EventOperation, Operation: OpConnect, DevicePath: path, Error: err.Error(), RequestID: RequestIDFrom(ctx)})
		return err
	}

	if err := port.Flush(); err != nil {
		c.logger.Debug("清空串口缓冲失败", zap.Error(err))
	}

	c.mu.Lock()
	c.port = port
	c.connectedAt = time.Now()
	c.lastError = ""
	c.mu.Unlock()
	c.rx = c.rx[:0]

	c.setState(StateIdle, ReasonConnect)
	c.emit(Event{Type: EventOperation, Operation: OpConnect, DevicePath: path, Success: true, RequestID: RequestIDFrom(ctx)})
	c.logger.Info("串口连接成功",
		zap.String("port", path),
		zap.Int("baud_rate", baud))
	return nil
}

// Disconnect 关闭串口，未连接时直接返回
func (c *Controller) Disconnect(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	port := c.port
	c.port = nil
	wasConnected := c.state != StateDisconnected
	c.mu.Unlock()

	if !wasConnected {
		c.emit(Event{Type: EventOperation, Operation: OpDisconnect, Success: true, RequestID: RequestIDFrom(ctx)})
		return nil
	}

	var closeErr error
	if port != nil {
		if err := port.Close(); err != nil {
			c.logger.Error("关闭串口失败", zap.Error(err))
			closeErr = errors.Wrap(err, errors.ErrSerialPortOpen, "close port")
		}
	}

	c.setState(StateDisconnected, ReasonDisconnect)
	ev := Event{Type: EventOperation, Operation: OpDisconnect, Success: closeErr == nil, RequestID: RequestIDFrom(ctx)}
	if closeErr != nil {
		ev.Error = closeErr.Error()
	}
	c.emit(ev)
	c.logger.Info("串口已断开", zap.String("port", c.DevicePath()))
	return closeErr
}

// Reset 重置设备 (0x30)
func (c *Controller) Reset(ctx context.Context) error {
	_, err := c.execute(ctx, protocol.CmdReset, nil)
	return err
}

// ReadStatus 读设备状态 (0x31)，成功后缓存结果
func (c *Controller) ReadStatus(ctx context.Context) ([]byte, error) {
	data, err := c.execute(ctx, protocol.CmdReadStatus, nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cachedStatus = cloneBytes(data)
	c.mu.Unlock()
	return data, nil
}

// Diagnostics 读诊断数据 (0x32)
func (c *Controller) Diagnostics(ctx context.Context) ([]byte, error) {
	return c.execute(ctx, protocol.CmdDiagnostics, nil)
}

// LastStatus 读设备保存的最后状态 (0x34)
func (c *Controller) LastStatus(ctx context.Context) ([]byte, error) {
	return c.execute(ctx, protocol.CmdLastStatus, nil)
}

// MultiDispense 多钞箱出钞 (0x3A)，counts[i] 为 i+1 号钞箱的张数
func (c *Controller) MultiDispense(ctx context.Context, counts []byte) error {
	if len(counts) != protocol.CassetteCount {
		err := errors.Newf(errors.ErrInvalidCounts, "need %d counts, got %d", protocol.CassetteCount, len(counts))
		c.noteError(err)
		c.emit(Event{
			Type:      EventOperation,
			Operation: protocol.CmdMultiDispense.String(),
			Error:     err.Error(),
			RequestID: RequestIDFrom(ctx),
		})
		return err
	}

	c.logger.Info("出钞命令",
		zap.String("counts", fmt.Sprintf("% X", counts)),
		zap.String("request_id", RequestIDFrom(ctx)))

	_, err := c.execute(ctx, protocol.CmdMultiDispense, cloneBytes(counts))
	return err
}

// execute 占用线路执行一条命令并更新统计
func (c *Controller) execute(ctx context.Context, cmd protocol.Command, data []byte) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		err := errors.New(errors.ErrDeviceOffline)
		c.noteError(err)
		return nil, err
	}
	port := c.port
	c.mu.Unlock()

	c.setState(StateBusy, ReasonCommand)

	start := time.Now()
	resp, err := c.transact(ctx, port, cmd, data)

	c.mu.Lock()
	c.lastCommand = cmd.String()
	c.lastCommandAt = time.Now()
	c.mu.Unlock()

	if err != nil {
		c.noteError(err)
		if IsLinkLost(err) {
			err = c.dropLink(err)
		} else {
			c.setState(StateIdle, ReasonCommand)
		}
		c.logger.Warn("命令执行失败",
			zap.Stringer("cmd", cmd),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	} else {
		c.mu.Lock()
		c.lastError = ""
		c.mu.Unlock()
		c.setState(StateIdle, ReasonCommand)
		c.logger.Debug("命令执行成功",
			zap.Stringer("cmd", cmd),
			zap.Int("reply_len", len(resp)),
			zap.Duration("elapsed", time.Since(start)))
	}

	ev := Event{
		Type:      EventOperation,
		Operation: cmd.String(),
		Success:   err == nil,
		Data:      cloneBytes(resp),
		RequestID: RequestIDFrom(ctx),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.emit(ev)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// transact 发送一帧并完成 ACK/NAK 与应答帧交换
func (c *Controller) transact(ctx context.Context, port SerialPort, cmd protocol.Command, data []byte) ([]byte, error) {
	raw, err := protocol.Encode(cmd, data)
	if err != nil {
		return nil, err
	}

	// 无应答命令写上线路后一直等到 ACK/NAK，不随调用方取消，只受 AckTimeout 和 RetryTimes 限制
	if !cmd.HasReply() {
		ctx = context.WithoutCancel(ctx)
	}

	// 丢弃上一次事务残留的字节
	c.rx = c.rx[:0]
	if err := port.Flush(); err != nil && IsLinkLost(err) {
		return nil, errors.Wrap(err, errors.ErrLinkLost)
	}

	acked := false
	for attempt := 1; attempt <= c.opts.RetryTimes; attempt++ {
		if attempt > 1 {
			c.countRetry()
			if err := sleepCtx(ctx, c.opts.RetryInterval); err != nil {
				return nil, err
			}
		}

		if err := c.writeFrame(ctx, port, cmd, raw); err != nil {
			return nil, err
		}

		b, err := c.readByte(ctx, port, time.Now().Add(c.opts.AckTimeout))
		if err != nil {
			return nil, err
		}

		switch b {
		case protocol.ACK:
			acked = true
		case protocol.NAK:
			c.countNAK()
			c.logger.Warn("设备拒绝命令",
				zap.Stringer("cmd", cmd),
				zap.Int("attempt", attempt),
				zap.Int("max", c.opts.RetryTimes))
			continue
		default:
			return nil, errors.Newf(errors.ErrInvalidResponse, "expected ACK/NAK, got 0x%02X", b)
		}
		break
	}
	if !acked {
		return nil, errors.Newf(errors.ErrDeviceNAK, "%s rejected %d times", cmd, c.opts.RetryTimes)
	}

	if !cmd.HasReply() {
		return nil, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryTimes; attempt++ {
		f, err := c.readFrame(ctx, port, cmd, time.Now().Add(c.opts.ReplyTimeout))
		if err == nil {
			if f.Command != cmd {
				return nil, errors.Newf(errors.ErrInvalidResponse, "reply command %s does not match %s", f.Command, cmd)
			}
			if err := c.writeControl(port, protocol.ACK); err != nil {
				return nil, err
			}
			return cloneBytes(f.Data), nil
		}

		if !errors.Is(err, errors.ErrChecksum) && !errors.Is(err, errors.ErrInvalidFrame) {
			return nil, err
		}

		// 应答帧损坏，要求设备重发
		lastErr = err
		c.countRetry()
		c.logger.Warn("应答帧校验失败，请求重发",
			zap.Stringer("cmd", cmd),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == c.opts.RetryTimes {
			break
		}
		if err := c.writeControl(port, protocol.NAK); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// writeFrame 写入完整帧
func (c *Controller) writeFrame(ctx context.Context, port SerialPort, cmd protocol.Command, raw []byte) error {
	start := time.Now()
	n, err := port.Write(raw)
	if err == nil && n != len(raw) {
		err = errors.Newf(errors.ErrSerialPortWrite, "incomplete write: %d/%d bytes", n, len(raw))
	}

	c.record(ctx, DirectionSend, cmd, raw, err, time.Since(start))
	logger.LogFrame(string(DirectionSend), byte(cmd), raw, err)

	if err != nil {
		return classifyIOError(err, errors.ErrSerialPortWrite)
	}

	c.mu.Lock()
	c.stats.framesSent++
	c.mu.Unlock()
	return nil
}

// writeControl 写入单个控制字符
func (c *Controller) writeControl(port SerialPort, b byte) error {
	if _, err := port.Write([]byte{b}); err != nil {
		return classifyIOError(err, errors.ErrSerialPortWrite)
	}
	return nil
}

// readFrame 在截止时间前读出一个完整帧
func (c *Controller) readFrame(ctx context.Context, port SerialPort, cmd protocol.Command, deadline time.Time) (*protocol.Frame, error) {
	dec := protocol.NewDecoder()
	start := time.Now()
	var raw []byte

	for {
		b, err := c.readByte(ctx, port, deadline)
		if err != nil {
			if len(raw) > 0 {
				c.record(ctx, DirectionReceive, cmd, raw, err, time.Since(start))
			}
			return nil, err
		}
		if dec.Pending() > 0 || b == protocol.STX {
			raw = append(raw, b)
		}

		f, err := dec.Feed(b)
		if err == nil && f == nil {
			continue
		}

		c.record(ctx, DirectionReceive, cmd, raw, err, time.Since(start))
		logger.LogFrame(string(DirectionReceive), byte(cmd), raw, err)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.stats.framesReceived++
		c.mu.Unlock()
		return f, nil
	}
}

// readByte 读取一个字节，串口读超时后检查 ctx 与截止时间
func (c *Controller) readByte(ctx context.Context, port SerialPort, deadline time.Time) (byte, error) {
	for len(c.rx) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, contextError(err)
		}
		if time.Now().After(deadline) {
			return 0, errors.New(errors.ErrSerialTimeout)
		}

		n, err := port.Read(c.readBuf[:])
		if n > 0 {
			c.rx = append(c.rx, c.readBuf[:n]...)
		}
		if err != nil && err != io.EOF {
			return 0, classifyIOError(err, errors.ErrSerialPortRead)
		}
		if n == 0 && err == nil {
			// 部分驱动超时立即返回，避免空转
			time.Sleep(time.Millisecond)
		}
	}

	b := c.rx[0]
	c.rx = c.rx[1:]
	return b, nil
}

// dropLink 链路断开：关闭串口并回到未连接状态
func (c *Controller) dropLink(cause error) error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	path := c.portCfg.Path
	c.mu.Unlock()

	if port != nil {
		port.Close()
	}

	c.logger.Error("检测到串口断线",
		zap.String("port", path),
		zap.Error(cause))
	c.setState(StateDisconnected, ReasonLinkLost)

	if errors.Is(cause, errors.ErrLinkLost) {
		return cause
	}
	return errors.New(errors.ErrLinkLost).WithCause(cause)
}

// setState 切换状态并通知监听者
func (c *Controller) setState(s State, reason string) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	path := c.portCfg.Path
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.emit(Event{
		Type:       EventStateChanged,
		State:      s,
		Previous:   prev,
		Reason:     reason,
		DevicePath: path,
		Success:    true,
	})
}

func (c *Controller) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Type == EventOperation {
		ev.State = c.State()
		ev.Previous = ev.State
	}

	c.listenerMu.RLock()
	listeners := make([]EventListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (c *Controller) record(ctx context.Context, dir Direction, cmd protocol.Command, raw []byte, err error, d time.Duration) {
	c.mu.RLock()
	r := c.opts.Recorder
	path := c.portCfg.Path
	c.mu.RUnlock()
	if r == nil {
		return
	}
	r.RecordFrame(FrameRecord{
		Direction:  dir,
		Command:    cmd,
		Raw:        cloneBytes(raw),
		Err:        err,
		Duration:   d,
		RequestID:  RequestIDFrom(ctx),
		DevicePath: path,
		Timestamp:  time.Now(),
	})
}

func (c *Controller) noteError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.stats.errors++
	c.mu.Unlock()
}

func (c *Controller) countNAK() {
	c.mu.Lock()
	c.stats.naks++
	c.mu.Unlock()
}

func (c *Controller) countRetry() {
	c.mu.Lock()
	c.stats.retries++
	c.mu.Unlock()
}

// acquire 等待线路空闲
func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.line <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrDeviceBusy, "waiting for serial line")
	}
}

func (c *Controller) release() {
	<-c.line
}

func classifyIOError(err error, code errors.ErrorCode) error {
	if IsLinkLost(err) {
		return errors.Wrap(err, errors.ErrLinkLost)
	}
	return errors.Wrap(err, code)
}

func contextError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrTimeout)
	}
	return errors.Wrap(err, errors.ErrCanceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx.Err())
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
