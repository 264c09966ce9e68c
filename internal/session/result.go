package session

import (
	"encoding/hex"
	stderrors "errors"
	"time"

	"github.com/wfunc/serial-echo/internal/errors"
)

// Stage 一次收发所处的步骤
type Stage string

const (
	StageAcquire Stage = "acquire" // 打开串口
	StageInput   Stage = "input"   // 读取操作员输入
	StageEncode  Stage = "encode"  // 编码
	StageWrite   Stage = "write"   // 发送
	StageRead    Stage = "read"    // 接收
	StageDecode  Stage = "decode"  // 解码
	StageRelease Stage = "release" // 关闭串口
	StagePanic   Stage = "panic"
	StageDone    Stage = "done"
)

// Result 一次收发的结果。成功时 Stage 为 StageDone，失败时为出错的步骤。
type Result struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	Port          string        `json:"port"`
	Encoding      string        `json:"encoding"`
	Stage         Stage         `json:"stage"`
	Sent          string        `json:"sent"`
	SentBytes     []byte        `json:"-"`
	Received      string        `json:"received"`
	ReceivedBytes []byte        `json:"-"`
	Err           error         `json:"-"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// OK 是否成功
func (r *Result) OK() bool {
	return r.Err == nil
}

// SentHex 发送数据的十六进制
func (r *Result) SentHex() string {
	return hex.EncodeToString(r.SentBytes)
}

// ReceivedHex 接收数据的十六进制
func (r *Result) ReceivedHex() string {
	return hex.EncodeToString(r.ReceivedBytes)
}

// ErrorCode 失败时的错误码，成功为0
func (r *Result) ErrorCode() errors.ErrorCode {
	return errors.GetCode(r.Err)
}

// ErrorMessage 失败时的错误信息
func (r *Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Reason 面向操作员的错误描述：底层错误的原文
func (r *Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	var appErr *errors.AppError
	if stderrors.As(r.Err, &appErr) && appErr.Details != "" {
		return appErr.Details
	}
	return r.Err.Error()
}

// fail 标记失败，只保留第一个错误
func (r *Result) fail(stage Stage, err *errors.AppError) {
	if r.Err != nil {
		return
	}
	r.Stage = stage
	r.Err = err
}
