// Package device 提供联调用的模拟设备。
package device

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Echo 回显设备：收到数据后原样发回，不以换行结尾时补一个换行
type Echo struct {
	Delay     time.Duration // 应答前等待
	KeepOnEOF bool          // 串口读超时返回EOF，继续读
	Logger    *zap.Logger

	replies atomic.Int64
}

// Replies 已应答次数
func (e *Echo) Replies() int64 {
	return e.replies.Load()
}

func (e *Echo) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Serve 在 rw 上回显，直到 ctx 结束或读写出错
func (e *Echo) Serve(ctx context.Context, rw io.ReadWriter) error {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := rw.Read(buf)
		if n > 0 {
			if werr := e.reply(ctx, rw, buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if e.KeepOnEOF {
					continue
				}
				return nil
			}
			return err
		}
	}
}

func (e *Echo) reply(ctx context.Context, w io.Writer, data []byte) error {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.Delay):
		}
	}

	out := make([]byte, 0, len(data)+1)
	out = append(out, data...)
	if data[len(data)-1] != '\n' {
		out = append(out, '\n')
	}
	if _, err := w.Write(out); err != nil {
		return err
	}

	count := e.replies.Add(1)
	e.log().Info("回显",
		zap.Int("bytes", len(data)),
		zap.Binary("data", data),
		zap.Int64("count", count),
	)
	return nil
}

// ServeListener 接受TCP连接并回显，ctx 结束时关闭监听
func (e *Echo) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		e.log().Info("设备连接", zap.String("remote", conn.RemoteAddr().String()))
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()

			// ctx 结束时打断阻塞的读
			stop := context.AfterFunc(ctx, func() { c.Close() })
			defer stop()

			if err := e.Serve(ctx, c); err != nil && ctx.Err() == nil {
				e.log().Warn("连接异常断开", zap.Error(err))
			}
		}(conn)
	}
}
