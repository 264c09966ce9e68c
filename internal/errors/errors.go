// Package errors 带错误码的应用错误。
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码
type ErrorCode int

// 错误码按模块分段
const (
	// 通用 (1000-1999)
	ErrUnknown       ErrorCode = 1000
	ErrInvalidParam  ErrorCode = 1001
	ErrNotFound      ErrorCode = 1002
	ErrTimeout       ErrorCode = 1005
	ErrCanceled      ErrorCode = 1006
	ErrConsoleInput  ErrorCode = 1100
	ErrConsoleOutput ErrorCode = 1101

	// 串口 (3000-3999)
	ErrSerialPortOpen  ErrorCode = 3000
	ErrSerialPortWrite ErrorCode = 3001
	ErrSerialPortRead  ErrorCode = 3002
	ErrSerialTimeout   ErrorCode = 3003
	ErrSerialPortClose ErrorCode = 3008
	ErrSerialPortList  ErrorCode = 3009

	// 编解码 (4100-4199)
	ErrEncode          ErrorCode = 4100
	ErrDecode          ErrorCode = 4101
	ErrUnknownEncoding ErrorCode = 4102

	// 收发记录数据库 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseDelete  ErrorCode = 5004

	// 配置 (6000-6999)
	ErrConfigLoad     ErrorCode = 6000
	ErrConfigParse    ErrorCode = 6001
	ErrConfigValidate ErrorCode = 6002
)

// codeInfo 错误码的描述和重试属性
type codeInfo struct {
	message   string
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrUnknown:       {message: "未知错误"},
	ErrInvalidParam:  {message: "无效的参数"},
	ErrNotFound:      {message: "资源未找到"},
	ErrTimeout:       {message: "操作超时", retryable: true},
	ErrCanceled:      {message: "操作已取消"},
	ErrConsoleInput:  {message: "读取输入失败"},
	ErrConsoleOutput: {message: "输出失败"},

	ErrSerialPortOpen:  {message: "串口打开失败", retryable: true},
	ErrSerialPortWrite: {message: "串口写入失败"},
	ErrSerialPortRead:  {message: "串口读取失败"},
	ErrSerialTimeout:   {message: "串口通信超时", retryable: true},
	ErrSerialPortClose: {message: "串口关闭失败"},
	ErrSerialPortList:  {message: "串口列表获取失败"},

	ErrEncode:          {message: "编码失败"},
	ErrDecode:          {message: "解码失败"},
	ErrUnknownEncoding: {message: "不支持的编码"},

	ErrDatabaseConnect: {message: "数据库连接失败", retryable: true},
	ErrDatabaseQuery:   {message: "数据库查询失败"},
	ErrDatabaseInsert:  {message: "数据库插入失败"},
	ErrDatabaseDelete:  {message: "数据库删除失败"},

	ErrConfigLoad:     {message: "配置加载失败"},
	ErrConfigParse:    {message: "配置解析失败"},
	ErrConfigValidate: {message: "配置验证失败"},
}

// AppError 应用错误
type AppError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details"`
	Cause   error        `json:"-"`
	Stack   []StackFrame `json:"stack,omitempty"`
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

func (e *AppError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause 设置原因；没有详情时用原因的文本
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建错误，多个详情用 "; " 连接
func New(code ErrorCode, details ...string) *AppError {
	return newError(code, strings.Join(details, "; "))
}

// Newf 详情为格式化文本
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return newError(code, fmt.Sprintf(format, args...))
}

func newError(code ErrorCode, details string) *AppError {
	info, ok := codes[code]
	if !ok {
		info = codes[ErrUnknown]
	}
	e := &AppError{Code: code, Message: info.message, Details: details}
	e.Stack = callers(3)
	return e
}

// Wrap 给err加上错误码。err已经是AppError时保留原来的错误码，只补充详情。
// 详情为 "details: 原因"，没有details时就是原因本身。
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	extra := strings.Join(details, "; ")

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if extra != "" {
			appErr.Details = extra + "; " + appErr.Details
		}
		return appErr
	}

	e := newError(code, extra)
	e.Cause = err
	if e.Details == "" {
		e.Details = err.Error()
	} else {
		e.Details += ": " + err.Error()
	}
	return e
}

// Wrapf 详情为格式化文本的 Wrap
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 错误链中是否有指定错误码的AppError
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// GetCode 取错误码；nil为0，非AppError为ErrUnknown
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrUnknown
}

// IsRetryable 下一次循环重试可能成功的错误
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return codes[GetCode(err)].retryable
}

// callers 记录最多10帧，跳过runtime和本包
func callers(skip int) []StackFrame {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])

	var stack []StackFrame
	for len(stack) < 10 {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") &&
			!strings.Contains(frame.Function, "serial-echo/internal/errors.") {
			stack = append(stack, StackFrame{Function: frame.Function, File: frame.File, Line: frame.Line})
		}
		if !more {
			break
		}
	}
	return stack
}

// GetStack 调用栈文本
func (e *AppError) GetStack() string {
	var b strings.Builder
	for i, f := range e.Stack {
		fmt.Fprintf(&b, "%d. %s\n   %s:%d\n", i+1, f.Function, f.File, f.Line)
	}
	return b.String()
}

// HTTPStatus 监控接口返回的状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam:
		return http.StatusBadRequest
	case e.Code == ErrNotFound:
		return http.StatusNotFound
	case e.Code == ErrTimeout:
		return http.StatusRequestTimeout
	case e.Code >= 5000 && e.Code < 6000:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse 监控接口的错误响应
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
