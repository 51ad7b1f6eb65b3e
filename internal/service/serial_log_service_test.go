package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/models"
	"github.com/wfunc/sdm3000/internal/protocol"
	"github.com/wfunc/sdm3000/internal/repository"
)

func TestSerialLogService_RecordsControllerFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	svc := NewSerialLogService(repository.NewSerialLogRepository(db), SerialLogOptions{FlushInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	ctrl, _ := newSimController(t)
	ctrl.SetRecorder(svc)

	reqCtx := hardware.WithRequestID(context.Background(), "req-status")
	_, err := ctrl.ReadStatus(reqCtx)
	require.NoError(t, err)
	require.NoError(t, ctrl.MultiDispense(hardware.WithRequestID(context.Background(), "req-dispense"), []byte{2, 0, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, ctrl.Disconnect(context.Background()))

	cancel()
	require.NoError(t, <-done)

	logs, err := svc.GetRequestLogs(context.Background(), "req-status")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.SerialDirectionSend, logs[0].Direction)
	assert.Equal(t, "02 01 31 03 30", logs[0].HexData)
	assert.Equal(t, models.SerialDirectionReceive, logs[1].Direction)
	assert.Equal(t, "READ_STATUS", logs[1].CommandName)
	assert.Equal(t, testDevice, logs[1].DevicePath)
	assert.Equal(t, svc.SessionID(), logs[1].SessionID)

	logs, err = svc.GetRequestLogs(context.Background(), "req-dispense")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "02 09 3A 02 00 00 00 00 00 00 00 03 31", logs[0].HexData)
	assert.Equal(t, int(protocol.CmdMultiDispense), logs[0].Command)
	assert.EqualValues(t, 3, svc.Written())
}

func TestSerialLogService_FlushOnBatchSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	// 刷新间隔很长，只能靠批量阈值写入
	svc := NewSerialLogService(repository.NewSerialLogRepository(db), SerialLogOptions{FlushInterval: time.Hour, BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for i := 0; i < 5; i++ {
		svc.RecordFrame(hardware.FrameRecord{Direction: hardware.DirectionSend, Command: protocol.CmdReset, Raw: []byte{0x02, 0x01, 0x30, 0x03, 0x31}, Timestamp: time.Now()})
	}
	assert.Eventually(t, func() bool { return svc.Written() == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSerialLogService_DropsWhenFull(t *testing.T) {
	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	svc := NewSerialLogService(repository.NewSerialLogRepository(db), SerialLogOptions{})
	for i := 0; i < defaultLogBuffer+10; i++ {
		svc.RecordFrame(hardware.FrameRecord{Direction: hardware.DirectionReceive, Err: assert.AnError})
	}
	assert.EqualValues(t, 10, svc.Dropped())

	// 未运行的服务在 Run 退出时写入全部缓冲
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))
	assert.EqualValues(t, defaultLogBuffer, svc.Written())

	hasErr := true
	_, total, err := svc.Query(context.Background(), &models.SerialLogQuery{HasError: &hasErr})
	require.NoError(t, err)
	assert.EqualValues(t, defaultLogBuffer, total)
}

func TestSerialLogService_Cleanup(t *testing.T) {
	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	repo := repository.NewSerialLogRepository(db)
	require.NoError(t, repo.Create(context.Background(), &models.SerialLog{
		Direction: models.SerialDirectionSend,
		Timestamp: time.Now().AddDate(0, 0, -10).UnixMilli(),
	}))

	svc := NewSerialLogService(repo, SerialLogOptions{RetentionDays: 7})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))

	stats, err := svc.GetStats(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalCount)
}
