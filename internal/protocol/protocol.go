package protocol

import (
	"fmt"

	"github.com/wfunc/sdm3000/internal/errors"
)

// 控制字符
const (
	STX byte = 0x02 // 帧起始
	ETX byte = 0x03 // 帧结束
	ACK byte = 0x06 // 确认
	NAK byte = 0x15 // 否认，要求重发
	ENQ byte = 0x05 // 询问
)

// Command SDM-3000 命令码
type Command byte

// 命令码定义
const (
	CmdReset         Command = 0x30 // 重置
	CmdReadStatus    Command = 0x31 // 读状态
	CmdDiagnostics   Command = 0x32 // 诊断
	CmdLastStatus    Command = 0x34 // 最后状态
	CmdMultiDispense Command = 0x3A // 多钞箱出钞
)

// 帧长度限制
const (
	MaxDataLen    = 254 // LEN 为单字节且包含 CMD
	FrameOverhead = 5   // STX + LEN + CMD + ETX + BCC
	MinFrameLen   = FrameOverhead
	MaxFrameLen   = FrameOverhead + MaxDataLen

	CassetteCount = 8 // 出钞命令每个钞箱一个字节
)

// String 返回命令名称
func (c Command) String() string {
	switch c {
	case CmdReset:
		return "RESET"
	case CmdReadStatus:
		return "READ_STATUS"
	case CmdDiagnostics:
		return "DIAGNOSTICS"
	case CmdLastStatus:
		return "LAST_STATUS"
	case CmdMultiDispense:
		return "MULTI_DISPENSE"
	default:
		return fmt.Sprintf("CMD_0x%02X", byte(c))
	}
}

// HasReply 命令在 ACK 之后是否还有应答帧
func (c Command) HasReply() bool {
	switch c {
	case CmdReadStatus, CmdDiagnostics, CmdLastStatus:
		return true
	default:
		return false
	}
}

// Known 是否为已知命令
func (c Command) Known() bool {
	switch c {
	case CmdReset, CmdReadStatus, CmdDiagnostics, CmdLastStatus, CmdMultiDispense:
		return true
	default:
		return false
	}
}

// Frame 数据帧：STX | LEN | CMD | DATA... | ETX | BCC
type Frame struct {
	Command Command
	Data    []byte
}

// NewFrame 创建数据帧
func NewFrame(cmd Command, data []byte) *Frame {
	return &Frame{Command: cmd, Data: data}
}

// BCC 异或校验，输入为 LEN、CMD 和 DATA，不含 ETX
func BCC(data []byte) byte {
	var bcc byte
	for _, b := range data {
		bcc ^= b
	}
	return bcc
}

// Encode 编码一帧
func Encode(cmd Command, data []byte) ([]byte, error) {
	if len(data) > MaxDataLen {
		return nil, errors.Newf(errors.ErrPayloadTooLarge, "data length %d exceeds %d", len(data), MaxDataLen)
	}

	buf := make([]byte, FrameOverhead+len(data))
	buf[0] = STX
	buf[1] = byte(1 + len(data))
	buf[2] = byte(cmd)
	copy(buf[3:], data)
	buf[3+len(data)] = ETX
	buf[4+len(data)] = BCC(buf[1 : 3+len(data)])

	return buf, nil
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() ([]byte, error) {
	return Encode(f.Command, f.Data)
}

// Decode 解析一个完整的帧，不允许多余字节
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameLen {
		return nil, errors.Newf(errors.ErrInvalidFrame, "frame too short: %d < %d", len(raw), MinFrameLen)
	}
	if raw[0] != STX {
		return nil, errors.Newf(errors.ErrInvalidFrame, "invalid frame header: 0x%02X", raw[0])
	}

	length := int(raw[1])
	if length == 0 {
		return nil, errors.New(errors.ErrInvalidFrame, "zero length field")
	}
	if len(raw) != length+4 {
		return nil, errors.Newf(errors.ErrInvalidFrame, "length field %d does not match frame size %d", length, len(raw))
	}

	etxIdx := length + 2
	if raw[etxIdx] != ETX {
		return nil, errors.Newf(errors.ErrInvalidFrame, "invalid frame tail: 0x%02X", raw[etxIdx])
	}

	calc := BCC(raw[1:etxIdx])
	if recv := raw[etxIdx+1]; calc != recv {
		return nil, errors.Newf(errors.ErrChecksum, "BCC mismatch: calc=0x%02X, recv=0x%02X", calc, recv)
	}

	f := &Frame{Command: Command(raw[2])}
	if length > 1 {
		f.Data = make([]byte, length-1)
		copy(f.Data, raw[3:etxIdx])
	}
	return f, nil
}
