package models

import (
	"time"

	"gorm.io/gorm"
)

// 收发方向
const (
	DirectionSend    = "SEND"
	DirectionReceive = "RECEIVE"
)

// ExchangeLogLevel 日志级别
type ExchangeLogLevel string

const (
	ExchangeLogLevelInfo  ExchangeLogLevel = "INFO"
	ExchangeLogLevelError ExchangeLogLevel = "ERROR"
)

// ExchangeLog 一次收发中的单向记录（发送一行、接收一行）
type ExchangeLog struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// 关联信息
	ExchangeID string `gorm:"type:varchar(64);index;not null" json:"exchange_id"` // 同一次收发的发送和接收共用
	SessionID  string `gorm:"type:varchar(64);index" json:"session_id"`           // 进程级会话ID

	// 基础信息
	Port      string           `gorm:"type:varchar(255);index" json:"port"`
	Encoding  string           `gorm:"type:varchar(32)" json:"encoding"`
	Direction string           `gorm:"type:varchar(10);index;not null" json:"direction"`
	Level     ExchangeLogLevel `gorm:"type:varchar(10);default:INFO" json:"level"`

	// 数据内容
	Text       string `gorm:"type:text" json:"text,omitempty"`     // 文本（发送为输入原文，接收为解码结果）
	HexData    string `gorm:"type:text" json:"hex_data,omitempty"` // 十六进制数据
	BytesCount int    `gorm:"default:0" json:"bytes_count"`

	// 失败信息
	Stage     string `gorm:"type:varchar(20)" json:"stage,omitempty"` // 失败所在步骤
	ErrorCode int    `gorm:"index" json:"error_code,omitempty"`
	ErrorMsg  string `gorm:"type:text" json:"error_msg,omitempty"`

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration,omitempty"` // 整次收发耗时（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`              // Unix时间戳（毫秒）
}

// TableName 指定表名
func (ExchangeLog) TableName() string {
	return "exchange_logs"
}

// BeforeCreate 创建前的钩子
func (e *ExchangeLog) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Timestamp == 0 {
		e.Timestamp = e.CreatedAt.UnixMilli()
	}
	if e.Level == "" {
		e.Level = ExchangeLogLevelInfo
	}
	return nil
}

// ExchangeLogQuery 查询参数
type ExchangeLogQuery struct {
	Port       string     `json:"port,omitempty"`
	Direction  string     `json:"direction,omitempty"`
	ExchangeID string     `json:"exchange_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	Text       string     `json:"text,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	HasError   *bool      `json:"has_error,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Offset     int        `json:"offset,omitempty"`
	OrderBy    string     `json:"order_by,omitempty"`
}

// ExchangeLogStats 统计信息
type ExchangeLogStats struct {
	TotalCount    int64   `json:"total_count"`
	TotalSend     int64   `json:"total_send"`
	TotalReceive  int64   `json:"total_receive"`
	TotalErrors   int64   `json:"total_errors"`
	BytesSent     int64   `json:"bytes_sent"`
	BytesReceived int64   `json:"bytes_received"`
	AvgDuration   float64 `json:"avg_duration"`
	MaxDuration   int64   `json:"max_duration"`
	MinDuration   int64   `json:"min_duration"`
}
