package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/serial-echo/internal/logger"
	"github.com/wfunc/serial-echo/internal/models"
	"github.com/wfunc/serial-echo/internal/repository"
	"github.com/wfunc/serial-echo/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	transcriptBatchSize  = 100
	transcriptBufferSize = 1000
)

// TranscriptService 收发记录服务：异步批量写库，并提供查询
type TranscriptService struct {
	repo          *repository.ExchangeLogRepository
	logger        *zap.Logger
	mu            sync.Mutex
	buffer        []*models.ExchangeLog
	bufferCh      chan *models.ExchangeLog
	stopCh        chan struct{}
	doneCh        chan struct{}
	closeOnce     sync.Once
	flushInterval time.Duration
}

// NewTranscriptService 创建收发记录服务
func NewTranscriptService(db *gorm.DB) *TranscriptService {
	return newTranscriptService(db, 2*time.Second)
}

func newTranscriptService(db *gorm.DB, flushInterval time.Duration) *TranscriptService {
	service := &TranscriptService{
		repo:          repository.NewExchangeLogRepository(db),
		logger:        logger.GetModuleLogger("transcript"),
		buffer:        make([]*models.ExchangeLog, 0, transcriptBatchSize),
		bufferCh:      make(chan *models.ExchangeLog, transcriptBufferSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		flushInterval: flushInterval,
	}

	// 启动后台写入协程
	go service.backgroundWriter()

	return service
}

// backgroundWriter 后台写入协程
func (s *TranscriptService) backgroundWriter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case log := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, log)
			// 缓冲区满了立即写入
			if len(s.buffer) >= transcriptBatchSize {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-s.stopCh:
			// 退出前写入剩余的记录
			s.mu.Lock()
		drain:
			for {
				select {
				case log := <-s.bufferCh:
					s.buffer = append(s.buffer, log)
				default:
					break drain
				}
			}
			s.flushBuffer()
			s.mu.Unlock()
			return
		}
	}
}

// flushBuffer 写入缓冲区的记录到数据库
func (s *TranscriptService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	if err := s.repo.CreateBatch(context.Background(), s.buffer); err != nil {
		s.logger.Error("批量写入收发记录失败", zap.Error(err), zap.Int("count", len(s.buffer)))
	} else {
		s.logger.Debug("批量写入收发记录成功", zap.Int("count", len(s.buffer)))
	}

	s.buffer = make([]*models.ExchangeLog, 0, transcriptBatchSize)
}

// OnResult 记录一次收发（实现 session.Observer）
func (s *TranscriptService) OnResult(_ context.Context, r *session.Result) {
	for _, log := range ToLogs(r) {
		select {
		case s.bufferCh <- log:
		default:
			s.logger.Warn("收发记录缓冲区满，丢弃记录", zap.String("exchange_id", r.ID))
		}
	}
}

// ToLogs 把一次收发转换为发送/接收记录。
// 打开串口或读输入就失败时只有一条发送记录；进入接收阶段后再加一条接收记录。
func ToLogs(r *session.Result) []*models.ExchangeLog {
	base := func(direction string) *models.ExchangeLog {
		return &models.ExchangeLog{
			CreatedAt:  r.StartedAt,
			ExchangeID: r.ID,
			SessionID:  r.SessionID,
			Port:       r.Port,
			Encoding:   r.Encoding,
			Direction:  direction,
			Level:      models.ExchangeLogLevelInfo,
			Timestamp:  r.StartedAt.UnixMilli(),
		}
	}

	send := base(models.DirectionSend)
	send.Text = r.Sent
	send.HexData = r.SentHex()
	send.BytesCount = len(r.SentBytes)
	logs := []*models.ExchangeLog{send}

	last := send
	switch r.Stage {
	case session.StageRead, session.StageDecode, session.StageRelease, session.StageDone:
		recv := base(models.DirectionReceive)
		recv.Text = r.Received
		recv.HexData = r.ReceivedHex()
		recv.BytesCount = len(r.ReceivedBytes)
		logs = append(logs, recv)
		last = recv
	}

	last.Duration = r.Duration.Milliseconds()
	if !r.OK() {
		last.Level = models.ExchangeLogLevelError
		last.Stage = string(r.Stage)
		last.ErrorCode = int(r.ErrorCode())
		last.ErrorMsg = r.ErrorMessage()
	}
	return logs
}

// Query 查询记录
func (s *TranscriptService) Query(ctx context.Context, query *models.ExchangeLogQuery) ([]*models.ExchangeLog, int64, error) {
	return s.repo.Query(ctx, query)
}

// GetStats 获取统计信息
func (s *TranscriptService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.ExchangeLogStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// GetLatestLogs 获取最新的记录
func (s *TranscriptService) GetLatestLogs(ctx context.Context, limit int, port string) ([]*models.ExchangeLog, error) {
	return s.repo.GetLatest(ctx, limit, port)
}

// GetExchange 获取一次收发的记录
func (s *TranscriptService) GetExchange(ctx context.Context, exchangeID string) ([]*models.ExchangeLog, error) {
	return s.repo.GetByExchangeID(ctx, exchangeID)
}

// GetErrorLogs 获取失败记录
func (s *TranscriptService) GetErrorLogs(ctx context.Context, limit int) ([]*models.ExchangeLog, error) {
	return s.repo.GetErrorLogs(ctx, limit)
}

// CleanupOldLogs 清理旧记录
func (s *TranscriptService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	return s.repo.CleanupLogs(ctx, retentionDays)
}

// StartCleanup 立即清理一次，之后按间隔定期清理，直到 ctx 结束
func (s *TranscriptService) StartCleanup(ctx context.Context, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 {
		return
	}

	cleanup := func() {
		deleted, err := s.CleanupOldLogs(ctx, retentionDays)
		if err != nil {
			s.logger.Error("清理收发记录失败", zap.Error(err))
			return
		}
		if deleted > 0 {
			s.logger.Info("清理收发记录", zap.Int64("deleted", deleted), zap.Int("retention_days", retentionDays))
		}
	}

	cleanup()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cleanup()
			}
		}
	}()
}

// ExportLogs 导出记录为JSON格式
func (s *TranscriptService) ExportLogs(ctx context.Context, query *models.ExchangeLogQuery) ([]byte, error) {
	logs, _, err := s.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(logs, "", "  ")
}

// Close 停止后台写入，等待剩余记录落库
func (s *TranscriptService) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.doneCh
}
