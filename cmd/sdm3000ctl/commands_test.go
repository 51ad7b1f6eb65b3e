package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/utils"
)

func run(t *testing.T, sim *hardware.Simulator, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&options{sim: sim})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--mock", "--device", "/dev/ttyS1"))
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus_Text(t *testing.T) {
	out, err := run(t, hardware.NewSimulator(), "status")
	require.NoError(t, err)
	assert.Equal(t, "status (12 bytes): 01 02 03 04 05 06 07 08 09 0A 0B 0C\n", out)
}

func TestDiagnostics_YAML(t *testing.T) {
	out, err := run(t, hardware.NewSimulator(), "diagnostics", "-o", "yaml")
	require.NoError(t, err)

	var res payloadResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	assert.Equal(t, "diagnostics", res.Command)
	assert.Equal(t, "/dev/ttyS1", res.Device)
	assert.Equal(t, "AA BB CC", res.Hex)
	assert.Equal(t, 3, res.Length)
}

func TestDispense(t *testing.T) {
	sim := hardware.NewSimulator()
	out, err := run(t, sim, "dispense", "2", "0", "0", "0", "0", "0", "0", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "total 3")
	assert.Equal(t, [8]int{2, 0, 0, 0, 0, 0, 0, 1}, sim.Dispensed())
}

func TestDispense_InvalidArgs(t *testing.T) {
	sim := hardware.NewSimulator()

	_, err := run(t, sim, "dispense", "256", "0", "0", "0", "0", "0", "0", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassette 1")

	_, err = run(t, sim, "dispense", "1", "2")
	require.Error(t, err)

	assert.Zero(t, sim.Opens(), "参数错误不应打开串口")
}

func TestReset_DeviceUnplugged(t *testing.T) {
	sim := hardware.NewSimulator()
	sim.Unplug()
	_, err := run(t, sim, "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect /dev/ttyS1")
}

func TestUnsupportedOutput(t *testing.T) {
	_, err := run(t, hardware.NewSimulator(), "status", "-o", "xml")
	require.Error(t, err)
}

func TestHashKey(t *testing.T) {
	out, err := run(t, nil, "hash-key", "panel-key")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))
	ok, err := utils.VerifyPassword("panel-key", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
