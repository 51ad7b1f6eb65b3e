package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wfunc/sdm3000/internal/hardware"
)

const testDevice = "/dev/ttyS1"

// newSimController 连接到模拟器的控制器
func newSimController(t *testing.T) (*hardware.Controller, *hardware.Simulator) {
	t.Helper()
	sim := hardware.NewSimulator()
	ctrl := hardware.NewController(hardware.Options{
		Opener:        sim.Opener(),
		ReadTimeout:   5 * time.Millisecond,
		AckTimeout:    200 * time.Millisecond,
		ReplyTimeout:  200 * time.Millisecond,
		RetryTimes:    3,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, ctrl.Connect(context.Background(), testDevice, 9600))
	t.Cleanup(func() { _ = ctrl.Disconnect(context.Background()) })
	return ctrl, sim
}
