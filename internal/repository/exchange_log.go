package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/serial-echo/internal/models"
	"gorm.io/gorm"
)

// 允许的排序字段
var exchangeLogOrderFields = map[string]bool{
	"id":          true,
	"created_at":  true,
	"timestamp":   true,
	"duration":    true,
	"bytes_count": true,
}

// ExchangeLogRepository 收发记录仓库
type ExchangeLogRepository struct {
	db *gorm.DB
}

// NewExchangeLogRepository 创建收发记录仓库
func NewExchangeLogRepository(db *gorm.DB) *ExchangeLogRepository {
	return &ExchangeLogRepository{
		db: db,
	}
}

// Create 创建记录
func (r *ExchangeLogRepository) Create(ctx context.Context, log *models.ExchangeLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建记录
func (r *ExchangeLogRepository) CreateBatch(ctx context.Context, logs []*models.ExchangeLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, 100).Error
}

// GetByExchangeID 获取一次收发的全部记录（发送在前）
func (r *ExchangeLogRepository) GetByExchangeID(ctx context.Context, exchangeID string) ([]*models.ExchangeLog, error) {
	var logs []*models.ExchangeLog
	err := r.db.WithContext(ctx).
		Where("exchange_id = ?", exchangeID).
		Order("id ASC").
		Find(&logs).Error
	return logs, err
}

// Query 查询记录
func (r *ExchangeLogRepository) Query(ctx context.Context, query *models.ExchangeLogQuery) ([]*models.ExchangeLog, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.ExchangeLog{})

	// 构建查询条件
	if query.Port != "" {
		db = db.Where("port = ?", query.Port)
	}
	if query.Direction != "" {
		db = db.Where("direction = ?", strings.ToUpper(query.Direction))
	}
	if query.ExchangeID != "" {
		db = db.Where("exchange_id = ?", query.ExchangeID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.Text != "" {
		db = db.Where("text LIKE ?", "%"+query.Text+"%")
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_msg IS NOT NULL AND error_msg != ''")
		} else {
			db = db.Where("error_msg IS NULL OR error_msg = ''")
		}
	}

	// 获取总数
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order(orderClause(query.OrderBy))

	// 分页
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.ExchangeLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// orderClause 只接受白名单字段，默认按时间倒序
func orderClause(orderBy string) string {
	fields := strings.Fields(strings.ToLower(orderBy))
	if len(fields) == 0 || !exchangeLogOrderFields[fields[0]] {
		return "created_at DESC, id DESC"
	}
	dir := "DESC"
	if len(fields) > 1 && fields[1] == "asc" {
		dir = "ASC"
	}
	return fields[0] + " " + dir + ", id " + dir
}

// GetStats 获取统计信息
func (r *ExchangeLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.ExchangeLogStats, error) {
	stats := &models.ExchangeLogStats{}

	// 时间范围过滤
	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.ExchangeLog{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	// 总数统计
	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	// 发送/接收统计
	if err := scoped().Where("direction = ?", models.DirectionSend).Count(&stats.TotalSend).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("direction = ?", models.DirectionReceive).Count(&stats.TotalReceive).Error; err != nil {
		return nil, err
	}

	// 错误统计
	if err := scoped().Where("error_msg IS NOT NULL AND error_msg != ''").Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	// 字节统计
	type ByteStats struct {
		Direction string
		Total     int64
	}
	var byteStats []ByteStats
	if err := scoped().
		Select("direction, COALESCE(SUM(bytes_count), 0) as total").
		Group("direction").
		Scan(&byteStats).Error; err != nil {
		return nil, err
	}
	for _, b := range byteStats {
		switch b.Direction {
		case models.DirectionSend:
			stats.BytesSent = b.Total
		case models.DirectionReceive:
			stats.BytesReceived = b.Total
		}
	}

	// 性能统计（只看接收记录，一次收发一条）
	type DurationStats struct {
		AvgDuration float64
		MaxDuration int64
		MinDuration int64
	}
	var durationStats DurationStats
	if err := scoped().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration, COALESCE(MIN(duration), 0) as min_duration").
		Where("direction = ? AND duration > 0", models.DirectionReceive).
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration
	stats.MinDuration = durationStats.MinDuration

	return stats, nil
}

// GetLatest 获取最新的记录
func (r *ExchangeLogRepository) GetLatest(ctx context.Context, limit int, port string) ([]*models.ExchangeLog, error) {
	var logs []*models.ExchangeLog
	db := r.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if port != "" {
		db = db.Where("port = ?", port)
	}
	err := db.Find(&logs).Error
	return logs, err
}

// GetErrorLogs 获取失败记录
func (r *ExchangeLogRepository) GetErrorLogs(ctx context.Context, limit int) ([]*models.ExchangeLog, error) {
	var logs []*models.ExchangeLog
	err := r.db.WithContext(ctx).
		Where("error_msg IS NOT NULL AND error_msg != ''").
		Or("level = ?", models.ExchangeLogLevelError).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteOldLogs 删除旧记录
func (r *ExchangeLogRepository) DeleteOldLogs(ctx context.Context, beforeTime time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("created_at < ?", beforeTime).
		Delete(&models.ExchangeLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理记录（保留最近N天的数据）
func (r *ExchangeLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	beforeTime := time.Now().AddDate(0, 0, -retentionDays)
	return r.DeleteOldLogs(ctx, beforeTime)
}
