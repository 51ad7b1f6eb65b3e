package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	err = New(ErrInvalidCounts, "需要8个字节", "收到: 3")
	suite.Equal("需要8个字节; 收到: 3", err.Details)
}

func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrDeviceNAK, "命令 0x%02X 重试 %d 次后仍被拒绝", 0x3A, 3)
	suite.Equal(ErrDeviceNAK, err.Code)
	suite.Equal("命令 0x3A 重试 3 次后仍被拒绝", err.Details)
}

func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("input/output error")
	wrappedErr := Wrap(originalErr, ErrSerialPortWrite)
	suite.Equal(ErrSerialPortWrite, wrappedErr.Code)
	suite.Equal("input/output error", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError保留原始错误码
	appErr := New(ErrChecksum, "bcc=0x31")
	wrappedAppErr := Wrap(appErr, ErrInvalidResponse, "读取状态")
	suite.Equal(ErrChecksum, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "读取状态")
}

func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("no such file or directory")
	wrappedErr := Wrapf(originalErr, ErrSerialPortOpen, "打开 %s", "/dev/ttyS1")
	suite.Equal("打开 /dev/ttyS1", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrDeviceOffline)
	suite.True(Is(err, ErrDeviceOffline))
	suite.False(Is(err, ErrDeviceBusy))
	suite.False(Is(nil, ErrDeviceOffline))
	suite.False(Is(errors.New("plain"), ErrUnknown))

	// 经过 fmt.Errorf 包装后仍能识别
	wrapped := fmt.Errorf("dispense: %w", New(ErrDeviceNAK))
	suite.True(Is(wrapped, ErrDeviceNAK))
}

func (suite *ErrorsTestSuite) TestStdlibIs() {
	err := fmt.Errorf("reset: %w", New(ErrSerialTimeout, "等待ACK"))
	suite.True(errors.Is(err, New(ErrSerialTimeout)))
	suite.False(errors.Is(err, New(ErrDeviceNAK)))
}

func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrTokenExpired, GetCode(New(ErrTokenExpired)))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

func (suite *ErrorsTestSuite) TestFrom() {
	suite.Nil(From(nil))

	appErr := New(ErrDeviceBusy)
	suite.Same(appErr, From(appErr))

	converted := From(errors.New("boom"))
	suite.Equal(ErrUnknown, converted.Code)
	suite.Equal("boom", converted.Details)
}

func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{
		Code:    ErrNotFound,
		Message: "资源未找到",
	}
	suite.Equal("[1002] 资源未找到", err.Error())

	err.Details = "dispense id: 7"
	suite.Equal("[1002] 资源未找到: dispense id: 7", err.Error())
}

func (suite *ErrorsTestSuite) TestUnwrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrUnknown)
	suite.Equal(originalErr, wrappedErr.Unwrap())
	suite.Nil(New(ErrUnknown).Unwrap())
}

func (suite *ErrorsTestSuite) TestWithCause() {
	err := New(ErrDatabaseQuery)
	cause := errors.New("SQL语法错误")
	err.WithCause(cause)
	suite.Equal(cause, err.Cause)
	suite.Equal("SQL语法错误", err.Details)

	err2 := New(ErrDatabaseQuery, "查询失败")
	err2.WithCause(cause)
	suite.Equal("查询失败", err2.Details)
}

func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidParam, 400},
		{ErrInvalidCounts, 400},
		{ErrNotFound, 404},
		{ErrSerialTimeout, 504},
		{ErrDeviceBusy, 409},
		{ErrAlreadyConnected, 409},
		{ErrDeviceOffline, 503},
		{ErrDeviceNAK, 502},
		{ErrChecksum, 502},
		{ErrAuthentication, 401},
		{ErrDatabaseConnect, 503},
		{ErrDatabaseInsert, 503},
		{ErrConfigValidate, 500},
		{ErrNotImplemented, 501},
		{ErrUnknown, 500},
	}

	for _, tc := range testCases {
		err := New(tc.code)
		suite.Equal(tc.expected, err.HTTPStatus(), "错误码 %d 应该返回HTTP状态码 %d", tc.code, tc.expected)
	}
}

func (suite *ErrorsTestSuite) TestIsRetryable() {
	for _, code := range []ErrorCode{ErrTimeout, ErrSerialTimeout, ErrDeviceBusy, ErrChecksum, ErrDeviceNAK} {
		suite.True(IsRetryable(New(code)), "错误码 %d 应该是可重试的", code)
	}
	for _, code := range []ErrorCode{ErrInvalidCounts, ErrDeviceOffline, ErrSerialPortOpen} {
		suite.False(IsRetryable(New(code)), "错误码 %d 不应该是可重试的", code)
	}
	suite.False(IsRetryable(nil))
}

func (suite *ErrorsTestSuite) TestIsCritical() {
	for _, code := range []ErrorCode{ErrDatabaseConnect, ErrSerialPortOpen, ErrLinkLost, ErrConfigLoad, ErrConfigMissing} {
		suite.True(IsCritical(New(code)), "错误码 %d 应该是严重错误", code)
	}
	for _, code := range []ErrorCode{ErrInvalidParam, ErrDeviceNAK, ErrTimeout, ErrConfigParse, ErrDatabaseInsert} {
		suite.False(IsCritical(New(code)), "错误码 %d 不应该是严重错误", code)
	}
	suite.False(IsCritical(nil))
}

func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.Greater(len(err.Stack), 0)
	suite.NotEmpty(err.GetStack())
}

func (suite *ErrorsTestSuite) TestErrorResponse() {
	err := New(ErrDeviceOffline)
	response := NewErrorResponse(err, "req-123")

	suite.False(response.Success)
	suite.Equal(err, response.Error)
	suite.Equal("req-123", response.RequestID)
	suite.Greater(response.Timestamp, int64(0))
}

func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

func (suite *ErrorsTestSuite) TestDeviceErrors() {
	deviceErrors := map[ErrorCode]string{
		ErrSerialPortOpen:   "串口打开失败",
		ErrSerialTimeout:    "串口通信超时",
		ErrLinkLost:         "串口链路断开",
		ErrDeviceOffline:    "设备未连接",
		ErrAlreadyConnected: "设备已连接到其他端口",
		ErrDeviceNAK:        "设备拒绝命令",
		ErrInvalidCounts:    "无效的出钞数量",
		ErrChecksum:         "BCC校验失败",
		ErrInvalidFrame:     "无效的数据帧",
	}

	for code, expectedMsg := range deviceErrors {
		suite.Equal(expectedMsg, New(code).Message)
	}
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
