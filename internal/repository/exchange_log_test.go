package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/serial-echo/internal/models"
	"gorm.io/gorm"
)

// ExchangeLogRepositoryTestSuite 收发记录仓储测试套件
type ExchangeLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *ExchangeLogRepository
	ctx  context.Context
}

func (suite *ExchangeLogRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB(suite.T())
	suite.repo = NewExchangeLogRepository(suite.db)
	suite.ctx = context.Background()
}

func (suite *ExchangeLogRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// seed 写入一次成功收发和一次读取失败
func (suite *ExchangeLogRepositoryTestSuite) seed() {
	logs := []*models.ExchangeLog{
		{ExchangeID: "ex-1", SessionID: "s-1", Port: "COM3", Encoding: "gbk", Direction: models.DirectionSend, Text: "PING", HexData: "50494e47", BytesCount: 4},
		{ExchangeID: "ex-1", SessionID: "s-1", Port: "COM3", Encoding: "gbk", Direction: models.DirectionReceive, Text: "PONG\n", HexData: "504f4e470a", BytesCount: 5, Duration: 12},
		{ExchangeID: "ex-2", SessionID: "s-1", Port: "COM3", Encoding: "gbk", Direction: models.DirectionSend, Text: "你好", HexData: "c4e3bac3", BytesCount: 4},
		{ExchangeID: "ex-2", SessionID: "s-1", Port: "COM3", Encoding: "gbk", Direction: models.DirectionReceive, Level: models.ExchangeLogLevelError,
			Stage: "decode", ErrorCode: 4101, ErrorMsg: "[4101] 解码失败", HexData: "ff", BytesCount: 1, Duration: 30},
		{ExchangeID: "ex-3", SessionID: "s-2", Port: "/dev/ttyUSB0", Encoding: "utf-8", Direction: models.DirectionSend, Text: "AT", HexData: "4154", BytesCount: 2},
	}
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, logs))
}

func (suite *ExchangeLogRepositoryTestSuite) TestCreate() {
	log := &models.ExchangeLog{ExchangeID: "ex-9", Direction: models.DirectionSend, Text: "hi"}
	suite.NoError(suite.repo.Create(suite.ctx, log))
	suite.NotZero(log.ID)
	suite.Equal(models.ExchangeLogLevelInfo, log.Level)
	suite.NotZero(log.Timestamp)
}

func (suite *ExchangeLogRepositoryTestSuite) TestCreateBatchEmpty() {
	suite.NoError(suite.repo.CreateBatch(suite.ctx, nil))
}

func (suite *ExchangeLogRepositoryTestSuite) TestGetByExchangeID() {
	suite.seed()

	logs, err := suite.repo.GetByExchangeID(suite.ctx, "ex-1")
	suite.Require().NoError(err)
	suite.Require().Len(logs, 2)
	suite.Equal(models.DirectionSend, logs[0].Direction)
	suite.Equal(models.DirectionReceive, logs[1].Direction)
	suite.Equal("PONG\n", logs[1].Text)
}

func (suite *ExchangeLogRepositoryTestSuite) TestQuery() {
	suite.seed()

	// 按端口
	logs, total, err := suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{Port: "COM3"})
	suite.Require().NoError(err)
	suite.Equal(int64(4), total)
	suite.Len(logs, 4)

	// 方向不区分大小写
	_, total, err = suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{Direction: "send"})
	suite.Require().NoError(err)
	suite.Equal(int64(3), total)

	// 只看失败
	hasError := true
	logs, total, err = suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{HasError: &hasError})
	suite.Require().NoError(err)
	suite.Equal(int64(1), total)
	suite.Equal("decode", logs[0].Stage)

	noError := false
	_, total, err = suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{HasError: &noError})
	suite.Require().NoError(err)
	suite.Equal(int64(4), total)

	// 文本模糊查询
	logs, _, err = suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{Text: "PON"})
	suite.Require().NoError(err)
	suite.Len(logs, 1)

	// 分页，总数不受影响
	logs, total, err = suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{Limit: 2, Offset: 1, OrderBy: "id asc"})
	suite.Require().NoError(err)
	suite.Equal(int64(5), total)
	suite.Require().Len(logs, 2)
	suite.Equal("ex-1", logs[0].ExchangeID)
	suite.Equal(models.DirectionReceive, logs[0].Direction)
}

func (suite *ExchangeLogRepositoryTestSuite) TestOrderClause() {
	suite.Equal("created_at DESC, id DESC", orderClause(""))
	suite.Equal("created_at DESC, id DESC", orderClause("text; DROP TABLE exchange_logs"))
	suite.Equal("duration ASC, id ASC", orderClause("duration asc"))
	suite.Equal("id DESC, id DESC", orderClause("ID"))
}

func (suite *ExchangeLogRepositoryTestSuite) TestGetStats() {
	suite.seed()

	stats, err := suite.repo.GetStats(suite.ctx, nil, nil)
	suite.Require().NoError(err)
	suite.Equal(int64(5), stats.TotalCount)
	suite.Equal(int64(3), stats.TotalSend)
	suite.Equal(int64(2), stats.TotalReceive)
	suite.Equal(int64(1), stats.TotalErrors)
	suite.Equal(int64(10), stats.BytesSent)
	suite.Equal(int64(6), stats.BytesReceived)
	suite.Equal(int64(30), stats.MaxDuration)
	suite.Equal(int64(12), stats.MinDuration)
	suite.InDelta(21.0, stats.AvgDuration, 0.001)

	// 时间窗口外没有数据
	future := time.Now().Add(time.Hour)
	stats, err = suite.repo.GetStats(suite.ctx, &future, nil)
	suite.Require().NoError(err)
	suite.Equal(int64(0), stats.TotalCount)
	suite.Equal(int64(0), stats.TotalSend)
	suite.Equal(int64(0), stats.BytesSent)
}

func (suite *ExchangeLogRepositoryTestSuite) TestGetLatest() {
	suite.seed()

	logs, err := suite.repo.GetLatest(suite.ctx, 2, "")
	suite.Require().NoError(err)
	suite.Require().Len(logs, 2)
	suite.Equal("ex-3", logs[0].ExchangeID)

	logs, err = suite.repo.GetLatest(suite.ctx, 10, "/dev/ttyUSB0")
	suite.Require().NoError(err)
	suite.Len(logs, 1)
}

func (suite *ExchangeLogRepositoryTestSuite) TestGetErrorLogs() {
	suite.seed()

	logs, err := suite.repo.GetErrorLogs(suite.ctx, 10)
	suite.Require().NoError(err)
	suite.Require().Len(logs, 1)
	suite.Equal(4101, logs[0].ErrorCode)
}

func (suite *ExchangeLogRepositoryTestSuite) TestCleanupLogs() {
	old := &models.ExchangeLog{ExchangeID: "old", Direction: models.DirectionSend, CreatedAt: time.Now().AddDate(0, 0, -40)}
	fresh := &models.ExchangeLog{ExchangeID: "fresh", Direction: models.DirectionSend}
	suite.Require().NoError(suite.repo.Create(suite.ctx, old))
	suite.Require().NoError(suite.repo.Create(suite.ctx, fresh))

	deleted, err := suite.repo.CleanupLogs(suite.ctx, 30)
	suite.Require().NoError(err)
	suite.Equal(int64(1), deleted)

	_, total, err := suite.repo.Query(suite.ctx, &models.ExchangeLogQuery{})
	suite.Require().NoError(err)
	suite.Equal(int64(1), total)

	_, err = suite.repo.CleanupLogs(suite.ctx, 0)
	suite.Error(err)
}

func TestExchangeLogRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(ExchangeLogRepositoryTestSuite))
}
