package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/serial-echo/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestBuildFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
		Output: "file",
		File: config.LogFileConfig{
			Path:     dir,
			Filename: "test.log",
			MaxSize:  1,
		},
		Modules: map[string]string{"serial": "warn"},
	}

	l, modules, err := build(cfg)
	require.NoError(t, err)
	require.Contains(t, modules, "serial")

	l.Info("hello", zap.String("k", "v"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)

	// 模块级别为warn，info不应写入
	assert.False(t, modules["serial"].Core().Enabled(zapcore.InfoLevel))
	assert.True(t, modules["serial"].Core().Enabled(zapcore.WarnLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestSetLevel(t *testing.T) {
	old := Level()
	t.Cleanup(func() { atomicLevel.SetLevel(old) })

	SetLevel("error")
	assert.Equal(t, zapcore.ErrorLevel, Level())
}

// 未初始化时所有便捷方法都不能panic
func TestUninitializedIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		GetLogger().Info("x")
		LogRequest("GET", "/health", 200, time.Millisecond, "127.0.0.1")
		LogSerialExchange("COM3", []byte("PING"), nil, time.Millisecond, errors.New("boom"))
		GetModuleLogger("session").Debug("y")
		Cleanup()
	})
}
