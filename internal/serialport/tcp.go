package serialport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// errPeerClosed TCP对端关闭连接
var errPeerClosed = errors.New("serialport: connection closed by peer")

// tcpPort 把TCP连接当作串口使用
type tcpPort struct {
	conn    net.Conn
	address string
	timeout time.Duration
}

// openTCP 连接TCP串口服务器
func openTCP(address string, readTimeout time.Duration) (Port, error) {
	conn, err := net.DialTimeout("tcp", address, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &tcpPort{conn: conn, address: address, timeout: readTimeout}, nil
}

func (t *tcpPort) Read(p []byte) (int, error) {
	if t.timeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	}
	n, err := t.conn.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errPeerClosed
	}
	return n, err
}

func (t *tcpPort) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *tcpPort) Close() error {
	return t.conn.Close()
}

// SetReadTimeout 调整下一次读的超时
func (t *tcpPort) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}
