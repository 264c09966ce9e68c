package config

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/wfunc/serial-echo/internal/codec"
)

// Config 全局配置结构体
type Config struct {
	Serial     SerialConfig     `mapstructure:"serial"`
	Log        LogConfig        `mapstructure:"log"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Encoding    string        `mapstructure:"encoding"` // 收发文本编码（默认gbk）
	Driver      string        `mapstructure:"driver"`   // 串口驱动: tarm / bugst
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// TranscriptConfig 收发记录（数据库）配置
type TranscriptConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// MonitorConfig 监控接口配置
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

// Addr 监听地址
func (m MonitorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		loaded, v, err = Load(configPath)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// Load 读取并校验配置，不修改全局状态
func Load(configPath string) (*Config, *viper.Viper, error) {
	vp := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("SERIAL_ECHO")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 如果配置文件不存在，使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return c, vp, nil
}

// DefaultPort 按平台返回默认串口名
func DefaultPort() string {
	if runtime.GOOS == "windows" {
		return "COM3"
	}
	return "/dev/ttyUSB0"
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 串口默认配置
	v.SetDefault("serial.port", DefaultPort())
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.read_timeout", "500ms")
	v.SetDefault("serial.encoding", "gbk")
	v.SetDefault("serial.driver", "tarm")

	// 日志默认配置（默认写文件，控制台只留交互输出）
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "file")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "serial-echo.log")
	v.SetDefault("log.file.max_size", 20)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 收发记录默认配置
	v.SetDefault("transcript.enabled", false)
	v.SetDefault("transcript.driver", "sqlite")
	v.SetDefault("transcript.dsn", "./data/serial-echo.db")
	v.SetDefault("transcript.max_idle_conns", 2)
	v.SetDefault("transcript.max_open_conns", 4)
	v.SetDefault("transcript.conn_max_lifetime", "1h")
	v.SetDefault("transcript.log_level", "warn")
	v.SetDefault("transcript.retention_days", 30)

	// 监控接口默认配置
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.host", "127.0.0.1")
	v.SetDefault("monitor.port", 8089)
	v.SetDefault("monitor.mode", "release")
}

// Validate 校验配置
func (c *Config) Validate() error {
	s := c.Serial
	if s.Port == "" {
		return fmt.Errorf("serial.port 不能为空")
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate 无效: %d", s.BaudRate)
	}
	if s.ReadTimeout <= 0 {
		return fmt.Errorf("serial.read_timeout 无效: %s", s.ReadTimeout)
	}
	if s.Encoding == "" {
		return fmt.Errorf("serial.encoding 不能为空")
	}
	if _, err := codec.Lookup(s.Encoding); err != nil {
		return fmt.Errorf("serial.encoding 无效: %w", err)
	}
	switch s.Driver {
	case "tarm", "bugst":
	default:
		return fmt.Errorf("不支持的串口驱动: %s", s.Driver)
	}
	switch strings.ToUpper(s.Parity) {
	case "N", "NONE", "O", "ODD", "E", "EVEN":
	default:
		return fmt.Errorf("不支持的校验位: %s", s.Parity)
	}
	if c.Transcript.Enabled {
		switch c.Transcript.Driver {
		case "sqlite", "sqlite3", "mysql", "postgres", "postgresql":
		default:
			return fmt.Errorf("不支持的数据库驱动: %s", c.Transcript.Driver)
		}
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Set 替换全局配置（命令行覆盖后调用）
func Set(c *Config) {
	mu.Lock()
	defer mu.Unlock()
	cfg = c
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}
