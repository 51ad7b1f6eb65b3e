package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"verbose": zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("debug")
	assert.Equal(t, "debug", Level())

	SetLevel("error")
	assert.Equal(t, "error", Level())
}

func TestGetLoggerBeforeInit(t *testing.T) {
	// 未初始化时返回可用的空日志器
	assert.NotNil(t, GetLogger())
	assert.NotNil(t, GetSugar())
	assert.NotNil(t, GetModuleLogger("serial"))
	LogFrame("SEND", 0x31, []byte{0x02, 0x01, 0x31, 0x03, 0x30}, nil)
}
