// Package logger 全局zap日志。交互界面占用stdout，默认只写文件。
package logger

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfunc/serial-echo/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu      sync.RWMutex
	once    sync.Once
	root    *zap.Logger
	modules map[string]*zap.Logger

	// 主日志器级别，配置热更新时调整
	atomicLevel = zap.NewAtomicLevel()
)

// Init 初始化日志系统，只生效一次
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		var l *zap.Logger
		var m map[string]*zap.Logger
		if l, m, err = build(cfg); err != nil {
			return
		}
		mu.Lock()
		root, modules = l, m
		mu.Unlock()
	})
	return err
}

// build 按配置组装输出：stdout、滚动文件、单独的 error.log
func build(cfg *config.LogConfig) (*zap.Logger, map[string]*zap.Logger, error) {
	atomicLevel.SetLevel(parseLevel(cfg.Level))
	encoder := newEncoder(cfg.Format)

	var cores []zapcore.Core
	sink := zapcore.AddSync(os.Stdout)

	toStdout := cfg.Output == "stdout" || cfg.Output == "both"
	toFile := cfg.Output == "file" || cfg.Output == "both"

	if toStdout {
		cores = append(cores, zapcore.NewCore(encoder, sink, atomicLevel))
	}
	if toFile {
		if err := os.MkdirAll(cfg.File.Path, 0755); err != nil {
			return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		sink = rotating(cfg.File, cfg.File.Filename)
		cores = append(cores,
			zapcore.NewCore(encoder, sink, atomicLevel),
			zapcore.NewCore(encoder, rotating(cfg.File, "error.log"), zapcore.ErrorLevel),
		)
	}

	l := zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)

	// 模块日志器有独立级别，写到主输出
	m := make(map[string]*zap.Logger, len(cfg.Modules))
	for name, level := range cfg.Modules {
		core := zapcore.NewCore(encoder, sink, parseLevel(level))
		m[name] = zap.New(core, zap.AddCaller()).Named(name)
	}
	return l, m, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.MillisDurationEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

// rotating 按大小滚动的日志文件
func rotating(f config.LogFileConfig, name string) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(f.Path, name),
		MaxSize:    f.MaxSize, // MB
		MaxAge:     f.MaxAge,  // 天
		MaxBackups: f.MaxBackups,
		Compress:   f.Compress,
	})
}

// parseLevel 无法识别的级别按info处理
func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// GetLogger 主日志器；未初始化时返回Nop，测试和工具不会输出到交互界面
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return zap.NewNop()
	}
	return root
}

// GetModuleLogger 模块日志器（serial、session、transcript、monitor、device）
func GetModuleLogger(name string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := modules[name]; ok {
		return l
	}
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(name)
}

// LogRequest 监控接口的访问日志
func LogRequest(method, path string, status int, latency time.Duration, clientIP string) {
	GetModuleLogger("monitor").Info("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("client_ip", clientIP),
	)
}

// LogError 记录错误
func LogError(err error, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, append(fields, zap.Error(err))...)
}

// LogPanic 记录恢复的panic
func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogSerialExchange 一次收发的原始字节
func LogSerialExchange(port string, sent, received []byte, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("port", port),
		zap.String("sent_hex", hex.EncodeToString(sent)),
		zap.Int("sent_bytes", len(sent)),
		zap.String("received_hex", hex.EncodeToString(received)),
		zap.Int("received_bytes", len(received)),
		zap.Duration("duration", duration),
	}

	l := GetModuleLogger("serial")
	if err != nil {
		l.Warn("serial_exchange_failed", append(fields, zap.Error(err))...)
		return
	}
	l.Info("serial_exchange", fields...)
}

// SetLevel 调整主日志器级别
func SetLevel(level string) {
	atomicLevel.SetLevel(parseLevel(level))
}

// Level 当前级别
func Level() zapcore.Level {
	return atomicLevel.Level()
}

// Cleanup 刷新缓冲。stdout 在部分平台上 Sync 会报 EINVAL，忽略错误
func Cleanup() {
	_ = GetLogger().Sync()
}
