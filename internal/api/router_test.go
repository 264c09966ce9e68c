package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/serial-echo/internal/models"
	"github.com/wfunc/serial-echo/internal/repository"
	"github.com/wfunc/serial-echo/internal/serialport"
	"github.com/wfunc/serial-echo/internal/service"
	"github.com/wfunc/serial-echo/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterTestSuite 监控接口测试套件
type RouterTestSuite struct {
	suite.Suite
	db     *gorm.DB
	svc    *service.TranscriptService
	router *Router
}

func (suite *RouterTestSuite) SetupTest() {
	suite.db = repository.SetupTestDB(suite.T())
	suite.svc = service.NewTranscriptService(suite.db)
	suite.router = NewRouter(Options{
		Mode:       "test",
		Version:    "test",
		DB:         suite.db,
		Transcript: suite.svc,
		ListPorts: func() ([]serialport.PortInfo, error) {
			return []serialport.PortInfo{{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"}}, nil
		},
	})

	repo := repository.NewExchangeLogRepository(suite.db)
	suite.Require().NoError(repo.CreateBatch(context.Background(), []*models.ExchangeLog{
		{ExchangeID: "ex-1", SessionID: "s-1", Port: "COM3", Direction: models.DirectionSend, Text: "PING", BytesCount: 4},
		{ExchangeID: "ex-1", SessionID: "s-1", Port: "COM3", Direction: models.DirectionReceive, Text: "PING\n", BytesCount: 5, Duration: 10},
		{ExchangeID: "ex-2", SessionID: "s-1", Port: "COM4", Direction: models.DirectionSend, Level: models.ExchangeLogLevelError,
			Stage: "acquire", ErrorCode: 3000, ErrorMsg: "[3000] 串口打开失败"},
	}))
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.svc.Close()
	repository.CleanupTestDB(suite.db)
}

func (suite *RouterTestSuite) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	suite.router.GetEngine().ServeHTTP(w, req)
	return w
}

func (suite *RouterTestSuite) decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (suite *RouterTestSuite) TestHealth() {
	w := suite.do(http.MethodGet, "/health", nil)
	suite.Equal(http.StatusOK, w.Code)

	body := suite.decode(w)
	suite.Equal("healthy", body["status"])
	suite.Equal("ok", body["transcript"])
	suite.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (suite *RouterTestSuite) TestQueryExchanges() {
	w := suite.do(http.MethodGet, "/api/v1/exchanges?port=COM3", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	body := suite.decode(w)
	suite.Equal(float64(2), body["total"])
	suite.Equal(float64(20), body["limit"])

	w = suite.do(http.MethodGet, "/api/v1/exchanges?has_error=true", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), suite.decode(w)["total"])

	w = suite.do(http.MethodGet, "/api/v1/exchanges?limit=1&offset=1&order_by=id%20asc", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	body = suite.decode(w)
	suite.Equal(float64(3), body["total"])
	data := body["data"].([]interface{})
	suite.Require().Len(data, 1)
	suite.Equal("RECEIVE", data[0].(map[string]interface{})["direction"])
}

func (suite *RouterTestSuite) TestQueryInvalidParams() {
	for _, path := range []string{
		"/api/v1/exchanges?limit=abc",
		"/api/v1/exchanges?offset=-1",
		"/api/v1/exchanges?has_error=maybe",
		"/api/v1/exchanges?start_time=yesterday",
		"/api/v1/exchanges/stats?end_time=2024",
	} {
		w := suite.do(http.MethodGet, path, nil)
		suite.Equal(http.StatusBadRequest, w.Code, path)

		body := suite.decode(w)
		suite.Equal(false, body["success"], path)
		suite.Equal(float64(1001), body["error"].(map[string]interface{})["code"], path)
		suite.NotEmpty(body["request_id"], path)
	}
}

func (suite *RouterTestSuite) TestLatestStatsErrors() {
	w := suite.do(http.MethodGet, "/api/v1/exchanges/latest?limit=2", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(2), suite.decode(w)["count"])

	w = suite.do(http.MethodGet, "/api/v1/exchanges/stats", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	stats := suite.decode(w)["data"].(map[string]interface{})
	suite.Equal(float64(3), stats["total_count"])
	suite.Equal(float64(2), stats["total_send"])
	suite.Equal(float64(1), stats["total_errors"])

	w = suite.do(http.MethodGet, "/api/v1/exchanges/errors", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), suite.decode(w)["count"])
}

func (suite *RouterTestSuite) TestGetExchange() {
	w := suite.do(http.MethodGet, "/api/v1/exchanges/ex-1", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Len(suite.decode(w)["data"], 2)

	w = suite.do(http.MethodGet, "/api/v1/exchanges/missing", nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func (suite *RouterTestSuite) TestExport() {
	w := suite.do(http.MethodGet, "/api/v1/exchanges/export?exchange_id=ex-1", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Contains(w.Header().Get("Content-Disposition"), "attachment; filename=exchanges_")

	var logs []models.ExchangeLog
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &logs))
	suite.Len(logs, 2)
}

func (suite *RouterTestSuite) TestCleanup() {
	w := suite.do(http.MethodPost, "/api/v1/exchanges/cleanup", []byte(`{}`))
	suite.Equal(http.StatusBadRequest, w.Code)

	old := &models.ExchangeLog{ExchangeID: "old", Direction: models.DirectionSend, CreatedAt: time.Now().AddDate(0, 0, -60)}
	suite.Require().NoError(suite.db.Create(old).Error)

	w = suite.do(http.MethodPost, "/api/v1/exchanges/cleanup", []byte(`{"retention_days":30}`))
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), suite.decode(w)["deleted"])
}

func (suite *RouterTestSuite) TestPorts() {
	w := suite.do(http.MethodGet, "/api/v1/ports", nil)
	suite.Require().Equal(http.StatusOK, w.Code)
	body := suite.decode(w)
	suite.Equal(float64(1), body["count"])
	port := body["data"].([]interface{})[0].(map[string]interface{})
	suite.Equal("/dev/ttyUSB0", port["name"])
}

func (suite *RouterTestSuite) TestNoRoute() {
	w := suite.do(http.MethodGet, "/api/v2/nothing", nil)
	suite.Equal(http.StatusNotFound, w.Code)
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

// 未启用收发记录时相关接口返回503
func TestTranscriptDisabled(t *testing.T) {
	router := NewRouter(Options{Mode: "test"})

	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/exchanges", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "收发记录未启用")

	w = httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transcript":"disabled"`)

	w = httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPortsError(t *testing.T) {
	router := NewRouter(Options{
		Mode: "test",
		ListPorts: func() ([]serialport.PortInfo, error) {
			return nil, stderrors.New("enumerator unavailable")
		},
	})

	w := httptest.NewRecorder()
	router.GetEngine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "enumerator unavailable")
}

func TestWebSocketRoute(t *testing.T) {
	hub := websocket.NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := NewRouter(Options{Mode: "test", Hub: hub})
	server := httptest.NewServer(router.GetEngine())
	defer server.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.MessageTypeConnected, msg.Type)
}

func TestStartShutdown(t *testing.T) {
	router := NewRouter(Options{Mode: "test"})
	assert.NoError(t, router.Shutdown(context.Background()))

	router.Start("127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, router.Shutdown(ctx))
}
