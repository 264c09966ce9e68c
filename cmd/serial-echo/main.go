package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/wfunc/serial-echo/internal/api"
	"github.com/wfunc/serial-echo/internal/config"
	"github.com/wfunc/serial-echo/internal/database"
	"github.com/wfunc/serial-echo/internal/errors"
	"github.com/wfunc/serial-echo/internal/logger"
	"github.com/wfunc/serial-echo/internal/serialport"
	"github.com/wfunc/serial-echo/internal/service"
	"github.com/wfunc/serial-echo/internal/session"
	"github.com/wfunc/serial-echo/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// overrides 命令行覆盖的串口参数
type overrides struct {
	port     string
	baud     int
	encoding string
}

// apply 覆盖配置中的串口参数
func (o overrides) apply(cfg *config.Config) {
	if o.port != "" {
		cfg.Serial.Port = o.port
	}
	if o.baud > 0 {
		cfg.Serial.BaudRate = o.baud
	}
	if o.encoding != "" {
		cfg.Serial.Encoding = o.encoding
	}
}

// App 应用实例
type App struct {
	cfg       *config.Config
	overrides overrides
	logger    *zap.Logger

	serialMu sync.RWMutex
	serial   config.SerialConfig

	session    *session.Session
	transcript *service.TranscriptService
	hub        *websocket.Hub
	router     *api.Router

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		port        = flag.String("port", "", "串口名（覆盖配置），如 COM3、/dev/ttyUSB0、tcp://127.0.0.1:7000")
		baud        = flag.Int("baud", 0, "波特率（覆盖配置）")
		encoding    = flag.String("encoding", "", "收发文本编码（覆盖配置），如 gbk、utf-8")
		listPorts   = flag.Bool("list", false, "列出本机串口")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Printf("获取串口列表失败: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()
	ov := overrides{port: *port, baud: *baud, encoding: *encoding}
	ov.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Printf("配置无效: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	app := NewApp(cfg, ov)
	if err := app.Start(); err != nil {
		logger.LogError(err, "启动失败")
		fmt.Printf("启动失败: %v\n", err)
		app.Shutdown()
		os.Exit(1)
	}

	// 收发循环在独立goroutine中运行，主goroutine等待信号
	done := make(chan error, 1)
	go func() {
		done <- app.session.Run(app.ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		app.logger.Info("收到退出信号", zap.String("signal", sig.String()))
		fmt.Println()
	case err := <-done:
		if err != nil {
			app.logger.Info("收发循环结束", zap.Error(err))
		}
	}

	app.Shutdown()
}

// NewApp 创建应用实例
func NewApp(cfg *config.Config, ov overrides) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:       cfg,
		overrides: ov,
		logger:    logger.GetLogger(),
		serial:    cfg.Serial,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start 初始化各组件并创建会话
func (a *App) Start() error {
	a.logger.Info("串口收发工具启动",
		zap.String("version", Version),
		zap.String("port", a.cfg.Serial.Port),
		zap.Int("baud_rate", a.cfg.Serial.BaudRate),
		zap.String("encoding", a.cfg.Serial.Encoding),
		zap.String("driver", a.cfg.Serial.Driver),
	)

	opts := []session.Option{
		session.WithConfigSource(a.serialConfig),
	}

	// 收发记录
	if a.cfg.Transcript.Enabled {
		if err := database.Init(&a.cfg.Transcript); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化收发记录数据库失败")
		}
		a.transcript = service.NewTranscriptService(database.GetDB())
		a.transcript.StartCleanup(a.ctx, a.cfg.Transcript.RetentionDays, 24*time.Hour)
		opts = append(opts, session.WithObserver(a.transcript))
	}

	// 监控接口和实时推送
	if a.cfg.Monitor.Enabled {
		a.hub = websocket.NewHub(logger.GetModuleLogger("monitor"))
		go a.hub.Run(a.ctx)
		opts = append(opts, session.WithObserver(a.hub))

		a.router = api.NewRouter(api.Options{
			Mode:       a.cfg.Monitor.Mode,
			Version:    Version,
			DB:         database.GetDB(),
			Transcript: a.transcript,
			Hub:        a.hub,
			Logger:     logger.GetModuleLogger("monitor"),
		})
		a.router.Start(a.cfg.Monitor.Addr())
	}

	a.session = session.New(a.cfg.Serial, opts...)

	// 监听配置变化，下次打开串口时生效
	config.Watch(func(newCfg *config.Config) {
		a.overrides.apply(newCfg)
		logger.SetLevel(newCfg.Log.Level)

		a.serialMu.Lock()
		a.serial = newCfg.Serial
		a.serialMu.Unlock()

		a.logger.Info("配置已更新",
			zap.String("port", newCfg.Serial.Port),
			zap.Int("baud_rate", newCfg.Serial.BaudRate),
			zap.Duration("read_timeout", newCfg.Serial.ReadTimeout),
			zap.String("encoding", newCfg.Serial.Encoding),
		)
	})

	return nil
}

// serialConfig 当前串口配置
func (a *App) serialConfig() config.SerialConfig {
	a.serialMu.RLock()
	defer a.serialMu.RUnlock()
	return a.serial
}

// Shutdown 关闭串口和各组件
func (a *App) Shutdown() {
	a.cancel()

	if a.session != nil {
		if err := a.session.Abort(); err != nil {
			a.logger.Warn("关闭串口失败", zap.Error(err))
		}
	}

	if a.router != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := a.router.Shutdown(ctx); err != nil {
			a.logger.Warn("关闭监控接口失败", zap.Error(err))
		}
		cancel()
	}

	if a.transcript != nil {
		a.transcript.Close()
	}
	if err := database.Close(); err != nil {
		a.logger.Error("关闭数据库失败", zap.Error(err))
	}

	a.logger.Info("已退出")
}

// printPorts 打印本机串口
func printPorts() error {
	ports, err := serialport.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("未发现串口")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("%s\tUSB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
		} else {
			fmt.Println(p.Name)
		}
	}
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("串口收发工具\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("串口收发工具：打开串口，发送一行输入，显示设备返回的一行，循环往复")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  serial-echo [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SERIAL_ECHO_SERIAL_PORT       串口名")
	fmt.Println("  SERIAL_ECHO_SERIAL_BAUD_RATE  波特率")
	fmt.Println("  SERIAL_ECHO_SERIAL_ENCODING   收发文本编码")
	fmt.Println("  SERIAL_ECHO_LOG_LEVEL         日志级别")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  serial-echo -port COM3 -baud 115200")
	fmt.Println("  serial-echo -config ./config/config.yaml")
	fmt.Println("  serial-echo -list")
}
