package protocol

import (
	"github.com/wfunc/sdm3000/internal/errors"
)

// Decoder 逐字节拼帧，帧头之前的杂散字节会被丢弃
type Decoder struct {
	buf     []byte
	need    int
	skipped int
}

// NewDecoder 创建解码器
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, MaxFrameLen)}
}

// Feed 输入一个字节，拼出完整帧时返回该帧。
// 长度字段、帧尾或校验不合法时返回错误并重新同步。
func (d *Decoder) Feed(b byte) (*Frame, error) {
	switch len(d.buf) {
	case 0:
		if b != STX {
			d.skipped++
			return nil, nil
		}
		d.buf = append(d.buf, b)
		return nil, nil
	case 1:
		if b == 0 {
			d.Reset()
			return nil, errors.New(errors.ErrInvalidFrame, "zero length field")
		}
		d.buf = append(d.buf, b)
		d.need = int(b) + 4
		return nil, nil
	}

	d.buf = append(d.buf, b)
	if len(d.buf) < d.need {
		return nil, nil
	}

	raw := make([]byte, len(d.buf))
	copy(raw, d.buf)
	d.Reset()
	return Decode(raw)
}

// Write 批量输入字节，返回其中所有完整帧以及遇到的第一个错误
func (d *Decoder) Write(p []byte) ([]*Frame, error) {
	var (
		frames   []*Frame
		firstErr error
	)
	for _, b := range p {
		f, err := d.Feed(b)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, firstErr
}

// Pending 当前缓存的半帧字节数
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Skipped 累计丢弃的杂散字节数
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Reset 丢弃缓存的半帧
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.need = 0
}
