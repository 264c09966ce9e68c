package session

import (
	"context"
	"io"

	"github.com/wfunc/serial-echo/internal/config"
	"github.com/wfunc/serial-echo/internal/serialport"
	"go.uber.org/zap"
)

// Observer 接收每次收发的结果（收发记录、实时推送）
type Observer interface {
	OnResult(ctx context.Context, r *Result)
}

// ObserverFunc 函数形式的 Observer
type ObserverFunc func(ctx context.Context, r *Result)

// OnResult 实现 Observer
func (f ObserverFunc) OnResult(ctx context.Context, r *Result) {
	f(ctx, r)
}

// Option 会话选项
type Option func(*Session)

// WithOpener 替换串口打开方式
func WithOpener(opener serialport.Opener) Option {
	return func(s *Session) {
		s.opener = opener
	}
}

// WithInput 操作员输入来源，默认 os.Stdin
func WithInput(r io.Reader) Option {
	return func(s *Session) {
		s.setInput(r)
	}
}

// WithOutput 交互输出，默认 os.Stdout
func WithOutput(w io.Writer) Option {
	return func(s *Session) {
		s.out = w
	}
}

// WithObserver 追加结果观察者
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger 替换日志器
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithConfigSource 每次打开串口前读取最新配置（配置热更新）
func WithConfigSource(source func() config.SerialConfig) Option {
	return func(s *Session) {
		s.source = source
	}
}

// WithSessionID 指定会话ID
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}
