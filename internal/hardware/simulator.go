package hardware

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/sdm3000/internal/protocol"
)

// 模拟设备的默认应答数据
var (
	SimStatus      = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}
	SimDiagnostics = []byte{0xAA, 0xBB, 0xCC}
	SimLastStatus  = []byte{0x11, 0x22, 0x33, 0x44}
)

var errSimUnplugged = stderrors.New("input/output error")

// Simulator 进程内模拟的 SDM-3000 设备端，实现 SerialPort
type Simulator struct {
	mu          sync.Mutex
	readTimeout time.Duration
	notify      chan struct{}

	out          []byte // 待主机读取的字节
	dec          *protocol.Decoder
	closed       bool
	unplugged    bool
	pendingReply []byte // 已发出、等待主机 ACK 的应答帧

	// 故障注入
	nakNext     int
	corruptNext int
	dropNext    int

	status      []byte
	diagnostics []byte
	lastStatus  []byte

	frames     []*protocol.Frame
	dispensed  [protocol.CassetteCount]int
	opens      int
	lastConfig PortConfig
}

// NewSimulator 创建模拟设备
func NewSimulator() *Simulator {
	return &Simulator{
		readTimeout: 20 * time.Millisecond,
		notify:      make(chan struct{}, 1),
		dec:         protocol.NewDecoder(),
		status:      cloneBytes(SimStatus),
		diagnostics: cloneBytes(SimDiagnostics),
		lastStatus:  cloneBytes(SimLastStatus),
	}
}

// Opener 返回打开模拟设备的 Opener，每次打开复用同一个设备
func (s *Simulator) Opener() Opener {
	return func(pc PortConfig) (SerialPort, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.unplugged {
			return nil, fmt.Errorf("open %s: no such file or directory", pc.Path)
		}
		s.closed = false
		s.out = nil
		s.pendingReply = nil
		s.dec.Reset()
		s.opens++
		s.lastConfig = pc
		if pc.ReadTimeout > 0 {
			s.readTimeout = pc.ReadTimeout
		}
		return s, nil
	}
}

// Write 主机写入
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, stderrors.New("port has been closed")
	}
	if s.unplugged {
		return 0, fmt.Errorf("write: %w", errSimUnplugged)
	}

	for _, b := range p {
		if s.pendingReply != nil {
			switch b {
			case protocol.ACK:
				s.pendingReply = nil
				continue
			case protocol.NAK:
				s.sendReply()
				continue
			}
			// 主机没有确认就发了新帧
			s.pendingReply = nil
		}

		f, err := s.dec.Feed(b)
		if err != nil {
			s.queue(protocol.NAK)
			continue
		}
		if f != nil {
			s.handle(f)
		}
	}
	return len(p), nil
}

// handle 处理一个完整的命令帧
func (s *Simulator) handle(f *protocol.Frame) {
	if s.nakNext > 0 {
		s.nakNext--
		s.queue(protocol.NAK)
		return
	}

	var reply []byte
	switch f.Command {
	case protocol.CmdReset:
	case protocol.CmdReadStatus:
		reply = s.status
	case protocol.CmdDiagnostics:
		reply = s.diagnostics
	case protocol.CmdLastStatus:
		reply = s.lastStatus
	case protocol.CmdMultiDispense:
		if len(f.Data) != protocol.CassetteCount {
			s.queue(protocol.NAK)
			return
		}
		for i, n := range f.Data {
			s.dispensed[i] += int(n)
		}
	default:
		s.queue(protocol.NAK)
		return
	}

	s.frames = append(s.frames, f)
	s.queue(protocol.ACK)

	if !f.Command.HasReply() {
		return
	}
	if s.dropNext > 0 {
		s.dropNext--
		return
	}

	s.pendingReply, _ = protocol.Encode(f.Command, reply)
	s.sendReply()
}

// sendReply 发送（或重发）应答帧
func (s *Simulator) sendReply() {
	raw := s.pendingReply
	if s.corruptNext > 0 {
		s.corruptNext--
		raw = cloneBytes(raw)
		raw[len(raw)-1] ^= 0xFF
	}
	s.queue(raw...)
}

func (s *Simulator) queue(b ...byte) {
	s.out = append(s.out, b...)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Read 主机读取，无数据时在读超时后返回 0, nil
func (s *Simulator) Read(p []byte) (int, error) {
	timer := time.NewTimer(s.timeout())
	defer timer.Stop()

	for {
		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return 0, stderrors.New("port has been closed")
		case s.unplugged:
			s.mu.Unlock()
			return 0, fmt.Errorf("read: %w", errSimUnplugged)
		case len(s.out) > 0:
			n := copy(p, s.out)
			s.out = s.out[n:]
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-timer.C:
			return 0, nil
		}
	}
}

// Flush 丢弃尚未读取的字节
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = nil
	return nil
}

// Close 关闭
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Simulator) timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTimeout
}

// NAKNext 接下来 n 个命令帧回 NAK
func (s *Simulator) NAKNext(n int) {
	s.mu.Lock()
	s.nakNext = n
	s.mu.Unlock()
}

// CorruptNext 接下来 n 个应答帧的校验码被破坏
func (s *Simulator) CorruptNext(n int) {
	s.mu.Lock()
	s.corruptNext = n
	s.mu.Unlock()
}

// DropNext 接下来 n 个应答帧不发送
func (s *Simulator) DropNext(n int) {
	s.mu.Lock()
	s.dropNext = n
	s.mu.Unlock()
}

// Unplug 模拟拔线，之后的读写和打开都会失败
func (s *Simulator) Unplug() {
	s.mu.Lock()
	s.unplugged = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Plug 恢复连接
func (s *Simulator) Plug() {
	s.mu.Lock()
	s.unplugged = false
	s.mu.Unlock()
}

// SetStatus 设置读状态应答
func (s *Simulator) SetStatus(b []byte) {
	s.mu.Lock()
	s.status = cloneBytes(b)
	s.mu.Unlock()
}

// Frames 设备已接受的命令帧
func (s *Simulator) Frames() []*protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Dispensed 各钞箱累计出钞张数
func (s *Simulator) Dispensed() [protocol.CassetteCount]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispensed
}

// Opens 被打开的次数
func (s *Simulator) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// LastConfig 最后一次打开使用的参数
func (s *Simulator) LastConfig() PortConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfig
}
