package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/sdm3000/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "tarm", cfg.Serial.Driver)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 1, cfg.Serial.StopBits)
	assert.Equal(t, "N", cfg.Serial.Parity)
	assert.Equal(t, 3, cfg.Serial.RetryTimes)
	assert.Equal(t, time.Second, cfg.Serial.AckTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 100, cfg.SerialLog.BatchSize)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
serial:
  port: "/dev/ttyUSB0"
  driver: bugst
  baud_rate: 19200
  mock_mode: true
  retry_times: 5
  reply_timeout: 2s
security:
  jwt:
    secret: "s3cret"
database:
  driver: mysql
  dsn: "user:pass@tcp(127.0.0.1:3306)/sdm"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, "bugst", cfg.Serial.Driver)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.True(t, cfg.Serial.MockMode)
	assert.Equal(t, 5, cfg.Serial.RetryTimes)
	assert.Equal(t, 2*time.Second, cfg.Serial.ReplyTimeout)
	assert.Equal(t, "s3cret", cfg.Security.JWT.Secret)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 8, cfg.Serial.DataBits)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SDM3000_SERIAL_BAUD_RATE", "38400")
	t.Setenv("SDM3000_SERIAL_PORT", "/dev/ttyACM3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 38400, cfg.Serial.BaudRate)
	assert.Equal(t, "/dev/ttyACM3", cfg.Serial.Port)
}

func TestLoad_InvalidDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  driver: usb\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported serial driver")
	assert.True(t, errors.Is(err, errors.ErrConfigValidate))
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  port: [unclosed\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigLoad))
	assert.True(t, errors.IsCritical(err))
}

func TestLoad_WrongType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  baud_rate: fast\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigParse))
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Serial.BaudRate = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Serial.RetryTimes = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Serial.Parity = "X"
	assert.True(t, errors.Is(bad.Validate(), errors.ErrConfigValidate))

	bad = *cfg
	bad.Serial.Port = ""
	err = bad.Validate()
	assert.True(t, errors.Is(err, errors.ErrConfigMissing))
	assert.True(t, errors.IsCritical(err))

	// 串口关闭时允许不填端口
	bad.Serial.Enabled = false
	assert.NoError(t, bad.Validate())

	good := *cfg
	good.Serial.Parity = "even"
	assert.NoError(t, good.Validate())
}
