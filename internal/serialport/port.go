// Package serialport 打开串口并按行收发。
//
// 串口名以 tcp:// 开头时改为连接TCP（串口服务器、测试夹具），
// 其余按配置选择 tarm 或 bugst 驱动。
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/serial-echo/internal/config"
)

// 驱动名称
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// TCPPrefix TCP地址前缀
const TCPPrefix = "tcp://"

// ErrClosed 对已关闭的连接读写
var ErrClosed = errors.New("serialport: port closed")

// Port 底层串口（tarm、bugst、TCP或测试替身）
type Port interface {
	io.ReadWriteCloser
}

// readTimeoutSetter 支持动态调整读超时的驱动
type readTimeoutSetter interface {
	SetReadTimeout(t time.Duration) error
}

// Opener 打开底层串口的函数
type Opener func(cfg Config) (Port, error)

// Config 串口参数
type Config struct {
	Name        string
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string
	ReadTimeout time.Duration
	Driver      string
}

// ConfigFrom 从全局配置转换
func ConfigFrom(c config.SerialConfig) Config {
	return Config{
		Name:        c.Port,
		BaudRate:    c.BaudRate,
		DataBits:    c.DataBits,
		StopBits:    c.StopBits,
		Parity:      c.Parity,
		ReadTimeout: c.ReadTimeout,
		Driver:      c.Driver,
	}
}

func (c Config) withDefaults() Config {
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.StopBits == 0 {
		c.StopBits = 1
	}
	if c.Parity == "" {
		c.Parity = "N"
	}
	if c.Driver == "" {
		c.Driver = DriverTarm
	}
	return c
}

// parityLetter N/O/E
func (c Config) parityLetter() string {
	switch strings.ToUpper(c.Parity) {
	case "O", "ODD":
		return "O"
	case "E", "EVEN":
		return "E"
	default:
		return "N"
	}
}

// OpenPort 按配置选择驱动打开底层串口
func OpenPort(cfg Config) (Port, error) {
	cfg = cfg.withDefaults()

	if strings.HasPrefix(cfg.Name, TCPPrefix) {
		return openTCP(strings.TrimPrefix(cfg.Name, TCPPrefix), cfg.ReadTimeout)
	}

	switch cfg.Driver {
	case DriverTarm:
		return openTarm(cfg)
	case DriverBugst:
		return openBugst(cfg)
	default:
		return nil, fmt.Errorf("不支持的串口驱动: %s", cfg.Driver)
	}
}

// Conn 一次会话持有的串口连接
type Conn struct {
	port    Port
	cfg     Config
	pending []byte
	buf     []byte

	mu     sync.Mutex
	closed bool
}

// Open 使用默认驱动打开连接
func Open(cfg Config) (*Conn, error) {
	return OpenWith(OpenPort, cfg)
}

// OpenWith 使用指定的 Opener 打开连接
func OpenWith(opener Opener, cfg Config) (*Conn, error) {
	cfg = cfg.withDefaults()
	p, err := opener(cfg)
	if err != nil {
		return nil, err
	}
	return NewConn(p, cfg), nil
}

// NewConn 包装已打开的底层串口
func NewConn(p Port, cfg Config) *Conn {
	return &Conn{
		port: p,
		cfg:  cfg.withDefaults(),
		buf:  make([]byte, 256),
	}
}

// Config 连接参数
func (c *Conn) Config() Config {
	return c.cfg
}

// Name 串口名
func (c *Conn) Name() string {
	return c.cfg.Name
}

// IsOpen 是否仍然打开
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// String 连接的可读描述，打开成功时显示给操作者
func (c *Conn) String() string {
	return fmt.Sprintf("Serial<open=%t>(port=%q, baudrate=%d, bytesize=%d, parity=%q, stopbits=%d, timeout=%s, driver=%q)",
		c.IsOpen(), c.cfg.Name, c.cfg.BaudRate, c.cfg.DataBits, c.cfg.parityLetter(),
		c.cfg.StopBits, c.cfg.ReadTimeout, c.cfg.Driver)
}

// Write 写入全部字节；写入数量不做校验
func (c *Conn) Write(data []byte) (int, error) {
	if !c.IsOpen() {
		return 0, ErrClosed
	}
	return c.port.Write(data)
}

// ReadLine 读取到换行符（含）或读超时为止，返回期间收到的全部字节。
// 超时返回已收到的数据（可能为空）且不报错。
func (c *Conn) ReadLine() ([]byte, error) {
	deadline := time.Now().Add(c.cfg.ReadTimeout)
	setter, canSet := c.port.(readTimeoutSetter)

	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			return c.take(i + 1), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.take(len(c.pending)), nil
		}
		if !c.IsOpen() {
			return c.take(len(c.pending)), ErrClosed
		}
		if canSet {
			if err := setter.SetReadTimeout(remaining); err != nil {
				return c.take(len(c.pending)), err
			}
		}

		n, err := c.port.Read(c.buf)
		if n > 0 {
			c.pending = append(c.pending, c.buf[:n]...)
			continue
		}
		if err != nil && !isTimeout(err) {
			return c.take(len(c.pending)), err
		}
	}
}

// take 取出pending前n个字节
func (c *Conn) take(n int) []byte {
	line := make([]byte, n)
	copy(line, c.pending[:n])
	c.pending = c.pending[n:]
	return line
}

// Close 关闭连接，可重复调用
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

// isTimeout tarm在VTIME到期时返回io.EOF，TCP返回超时错误
func isTimeout(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
