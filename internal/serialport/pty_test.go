//go:build linux

package serialport

import (
	"os"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPTY 创建pty对，master端充当设备
func openPTY(t *testing.T) (master, slave *os.File) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave
}

func ptyConfig(name string, timeout time.Duration) Config {
	return Config{Name: name, BaudRate: 115200, ReadTimeout: timeout, Driver: DriverTarm}
}

func TestPTYExchange(t *testing.T) {
	master, slave := openPTY(t)

	conn, err := Open(ptyConfig(slave.Name(), time.Second))
	require.NoError(t, err)
	defer conn.Close()

	// 设备：收到什么就回什么，并补一个换行
	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 128)
		n, err := master.Read(buf)
		if err != nil {
			return
		}
		received <- string(buf[:n])
		master.Write(append(buf[:n:n], '\n'))
	}()

	_, err = conn.Write([]byte("PING"))
	require.NoError(t, err)

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "PING\n", string(line))

	select {
	case msg := <-received:
		assert.Equal(t, "PING", msg)
	case <-time.After(time.Second):
		t.Fatal("device did not receive data")
	}
}

func TestPTYReadTimeoutWindow(t *testing.T) {
	_, slave := openPTY(t)
	timeout := 300 * time.Millisecond

	conn, err := Open(ptyConfig(slave.Name(), timeout))
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	line, err := conn.ReadLine()
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Empty(t, line)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 3*timeout)
}

// 关闭后同一个串口可以再次打开
func TestPTYReopenAfterClose(t *testing.T) {
	_, slave := openPTY(t)
	cfg := ptyConfig(slave.Name(), 100*time.Millisecond)

	for i := 0; i < 3; i++ {
		conn, err := Open(cfg)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, conn.Close())
		assert.False(t, conn.IsOpen())
	}
}
