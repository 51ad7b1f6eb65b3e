package hardware

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/errors"
)

func TestNewOpener(t *testing.T) {
	for _, driver := range []string{"", "tarm", "bugst"} {
		opener, err := NewOpener(driver)
		require.NoError(t, err, driver)
		assert.NotNil(t, opener)
	}

	_, err := NewOpener("usb")
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))
}

func TestOpeners_MissingDevice(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "ttyNONE")
	pc := PortConfig{Path: missing, BaudRate: 9600, ReadTimeout: 10 * time.Millisecond}

	for name, open := range map[string]Opener{"tarm": OpenTarm, "bugst": OpenBugst} {
		_, err := open(pc)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, errors.ErrSerialPortOpen), name)
	}
}

func TestPortConfigFrom(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	pc := PortConfigFrom(&cfg.Serial, "/dev/ttyUSB0", 0)
	assert.Equal(t, "/dev/ttyUSB0", pc.Path)
	assert.Equal(t, DefaultBaudRate, pc.BaudRate)
	assert.Equal(t, 8, pc.DataBits)
	assert.Equal(t, 1, pc.StopBits)
	assert.Equal(t, "N", pc.Parity)
	assert.Equal(t, 100*time.Millisecond, pc.ReadTimeout)

	opts, err := OptionsFrom(&cfg.Serial)
	require.NoError(t, err)
	assert.Equal(t, 3, opts.RetryTimes)
	assert.Equal(t, time.Second, opts.AckTimeout)
}

func TestSerialPortExists(t *testing.T) {
	assert.True(t, SerialPortExists(t.TempDir()))
	assert.False(t, SerialPortExists(filepath.Join(t.TempDir(), "ttyACM9")))
}

func TestIsLinkLost(t *testing.T) {
	lost := []error{
		stderrors.New("read /dev/ttyUSB0: input/output error"),
		stderrors.New("write /dev/ttyS1: broken pipe"),
		stderrors.New("open /dev/ttyACM0: no such file or directory"),
		stderrors.New("Device not configured"),
		fmt.Errorf("wrapped: %w", stderrors.New("permission denied")),
		errors.New(errors.ErrLinkLost),
	}
	for _, err := range lost {
		assert.True(t, IsLinkLost(err), err.Error())
	}

	ok := []error{
		nil,
		stderrors.New("timeout"),
		errors.New(errors.ErrChecksum),
		errors.New(errors.ErrDeviceNAK),
	}
	for _, err := range ok {
		assert.False(t, IsLinkLost(err))
	}
}

func TestState(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.True(t, StateBusy.Connected())
	assert.False(t, StateConnecting.Connected())

	text, err := StateDisconnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "disconnected", string(text))
}
