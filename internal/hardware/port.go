package hardware

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	tarm "github.com/tarm/serial"
	bugst "go.bug.st/serial"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/errors"
)

// SerialPort 串口抽象，便于替换底层驱动和测试
type SerialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// DefaultBaudRate SDM-3000 出厂波特率
const DefaultBaudRate = 9600

// PortConfig 打开串口所需的参数
type PortConfig struct {
	Path        string
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string // N / O / E
	ReadTimeout time.Duration
}

// PortConfigFrom 从全局串口配置生成打开参数
func PortConfigFrom(cfg *config.SerialConfig, path string, baud int) PortConfig {
	pc := PortConfig{
		Path:        path,
		BaudRate:    baud,
		DataBits:    cfg.DataBits,
		StopBits:    cfg.StopBits,
		Parity:      cfg.Parity,
		ReadTimeout: cfg.ReadTimeout,
	}
	return pc.withDefaults()
}

func (pc PortConfig) withDefaults() PortConfig {
	if pc.BaudRate <= 0 {
		pc.BaudRate = DefaultBaudRate
	}
	if pc.DataBits == 0 {
		pc.DataBits = 8
	}
	if pc.StopBits == 0 {
		pc.StopBits = 1
	}
	if pc.Parity == "" {
		pc.Parity = "N"
	}
	if pc.ReadTimeout <= 0 {
		pc.ReadTimeout = 100 * time.Millisecond
	}
	return pc
}

// Opener 打开串口
type Opener func(pc PortConfig) (SerialPort, error)

// NewOpener 按驱动名选择打开方式
func NewOpener(driver string) (Opener, error) {
	switch driver {
	case "", "tarm":
		return OpenTarm, nil
	case "bugst":
		return OpenBugst, nil
	default:
		return nil, errors.Newf(errors.ErrInvalidParam, "unsupported serial driver %q", driver)
	}
}

// OpenTarm 使用 tarm/serial 打开串口
func OpenTarm(pc PortConfig) (SerialPort, error) {
	pc = pc.withDefaults()

	// 解析校验位
	parity := tarm.ParityNone
	switch strings.ToUpper(pc.Parity) {
	case "O", "ODD":
		parity = tarm.ParityOdd
	case "E", "EVEN":
		parity = tarm.ParityEven
	}

	stopBits := tarm.Stop1
	if pc.StopBits == 2 {
		stopBits = tarm.Stop2
	}

	port, err := tarm.OpenPort(&tarm.Config{
		Name:        pc.Path,
		Baud:        pc.BaudRate,
		Size:        byte(pc.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: pc.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "open %s", pc.Path)
	}
	return port, nil
}

// bugstPort 给 go.bug.st/serial 补上 Flush
type bugstPort struct {
	bugst.Port
}

// Flush 丢弃输入缓冲区中尚未读取的数据
func (p *bugstPort) Flush() error {
	return p.ResetInputBuffer()
}

// OpenBugst 使用 go.bug.st/serial 打开串口
func OpenBugst(pc PortConfig) (SerialPort, error) {
	pc = pc.withDefaults()

	mode := &bugst.Mode{
		BaudRate: pc.BaudRate,
		DataBits: pc.DataBits,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	switch strings.ToUpper(pc.Parity) {
	case "O", "ODD":
		mode.Parity = bugst.OddParity
	case "E", "EVEN":
		mode.Parity = bugst.EvenParity
	}
	if pc.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}

	port, err := bugst.Open(pc.Path, mode)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "open %s", pc.Path)
	}
	if err := port.SetReadTimeout(pc.ReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, errors.ErrSerialPortOpen, "set read timeout on %s", pc.Path)
	}
	return &bugstPort{Port: port}, nil
}

// ListPorts 列出系统中的串口
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrSerialPortOpen, "list serial ports")
	}
	sort.Strings(ports)
	return ports, nil
}

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsLinkLost 判断错误是否意味着串口已断开（USB 拔出、设备掉电等）
func IsLinkLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errors.ErrLinkLost) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range linkLostPatterns {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

var linkLostPatterns = []string{
	"input/output error",
	"device not configured",
	"broken pipe",
	"no such file",
	"no such device",
	"permission denied",
	"file already closed",
	"port has been closed",
}

func describePort(pc PortConfig) string {
	return fmt.Sprintf("%s@%d %d%s%d", pc.Path, pc.BaudRate, pc.DataBits, strings.ToUpper(pc.Parity[:1]), pc.StopBits)
}
