// echo-device 模拟回显设备，用于联调 serial-echo。
//
//	echo-device -listen 127.0.0.1:7000          # TCP，serial-echo 用 -port tcp://127.0.0.1:7000
//	echo-device -port /dev/ttyUSB1 -baud 115200 # 真实串口（与被测串口交叉连接）
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/serial-echo/internal/config"
	"github.com/wfunc/serial-echo/internal/device"
	"github.com/wfunc/serial-echo/internal/logger"
	"github.com/wfunc/serial-echo/internal/serialport"
	"go.uber.org/zap"
)

func main() {
	var (
		listen = flag.String("listen", "127.0.0.1:7000", "TCP监听地址")
		port   = flag.String("port", "", "串口名，设置后不监听TCP")
		baud   = flag.Int("baud", 115200, "波特率")
		driver = flag.String("driver", serialport.DriverTarm, "串口驱动: tarm / bugst")
		delay  = flag.Duration("delay", 0, "应答延迟")
		level  = flag.String("level", "info", "日志级别")
	)
	flag.Parse()

	if err := logger.Init(&config.LogConfig{Level: *level, Format: "console", Output: "stdout"}); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()
	log := logger.GetModuleLogger("device")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	echo := &device.Echo{Delay: *delay, Logger: log}

	if *port != "" {
		p, err := serialport.OpenPort(serialport.Config{
			Name:        *port,
			BaudRate:    *baud,
			DataBits:    8,
			StopBits:    1,
			Parity:      "N",
			ReadTimeout: 100 * time.Millisecond,
			Driver:      *driver,
		})
		if err != nil {
			log.Error("打开串口失败", zap.String("port", *port), zap.Error(err))
			os.Exit(1)
		}
		go func() {
			<-ctx.Done()
			p.Close()
		}()

		log.Info("回显设备启动", zap.String("port", *port), zap.Int("baud_rate", *baud))
		echo.KeepOnEOF = true
		if err := echo.Serve(ctx, p); err != nil && ctx.Err() == nil {
			log.Error("串口回显异常退出", zap.Error(err))
		}
		return
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Error("监听失败", zap.String("address", *listen), zap.Error(err))
		os.Exit(1)
	}
	log.Info("回显设备启动", zap.String("address", ln.Addr().String()))
	if err := echo.ServeListener(ctx, ln); err != nil {
		log.Error("回显设备异常退出", zap.Error(err))
	}
}
