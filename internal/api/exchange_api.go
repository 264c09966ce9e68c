package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/serial-echo/internal/errors"
	"github.com/wfunc/serial-echo/internal/middleware"
	"github.com/wfunc/serial-echo/internal/models"
	"github.com/wfunc/serial-echo/internal/service"
)

const maxPageSize = 500

// ExchangeAPI 收发记录API
type ExchangeAPI struct {
	service *service.TranscriptService
}

// NewExchangeAPI 创建收发记录API
func NewExchangeAPI(service *service.TranscriptService) *ExchangeAPI {
	return &ExchangeAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由
func (api *ExchangeAPI) RegisterRoutes(router *gin.RouterGroup) {
	exchanges := router.Group("/exchanges")
	exchanges.Use(api.requireTranscript)
	{
		exchanges.GET("", api.QueryLogs)            // 查询记录列表
		exchanges.GET("/latest", api.GetLatestLogs) // 获取最新记录
		exchanges.GET("/stats", api.GetStats)       // 获取统计信息
		exchanges.GET("/errors", api.GetErrorLogs)  // 获取失败记录
		exchanges.GET("/export", api.ExportLogs)    // 导出记录
		exchanges.GET("/:id", api.GetExchange)      // 一次收发的记录
		exchanges.POST("/cleanup", api.CleanupLogs) // 清理旧记录
	}
}

// requireTranscript 收发记录未启用时返回503
func (api *ExchangeAPI) requireTranscript(c *gin.Context) {
	if api.service == nil {
		abortWithError(c, errors.New(errors.ErrDatabaseConnect, "收发记录未启用"))
		return
	}
	c.Next()
}

// QueryLogs 查询记录列表
func (api *ExchangeAPI) QueryLogs(c *gin.Context) {
	query := &models.ExchangeLogQuery{
		Port:       c.Query("port"),
		Direction:  c.Query("direction"),
		ExchangeID: c.Query("exchange_id"),
		SessionID:  c.Query("session_id"),
		Text:       c.Query("text"),
		OrderBy:    c.Query("order_by"),
	}

	// 时间范围
	var err error
	if query.StartTime, err = parseTime(c, "start_time"); err != nil {
		abortWithError(c, err)
		return
	}
	if query.EndTime, err = parseTime(c, "end_time"); err != nil {
		abortWithError(c, err)
		return
	}

	// 是否有错误
	if hasError := c.Query("has_error"); hasError != "" {
		b, err := strconv.ParseBool(hasError)
		if err != nil {
			abortWithError(c, errors.Newf(errors.ErrInvalidParam, "has_error: %s", hasError))
			return
		}
		query.HasError = &b
	}

	// 分页参数
	if query.Limit, err = intQuery(c, "limit", 20); err != nil {
		abortWithError(c, err)
		return
	}
	if query.Offset, err = intQuery(c, "offset", 0); err != nil {
		abortWithError(c, err)
		return
	}

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   logs,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatestLogs 获取最新记录
func (api *ExchangeAPI) GetLatestLogs(c *gin.Context) {
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, err := api.service.GetLatestLogs(c.Request.Context(), limit, c.Query("port"))
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
func (api *ExchangeAPI) GetStats(c *gin.Context) {
	startTime, err := parseTime(c, "start_time")
	if err != nil {
		abortWithError(c, err)
		return
	}
	endTime, err := parseTime(c, "end_time")
	if err != nil {
		abortWithError(c, err)
		return
	}

	stats, err := api.service.GetStats(c.Request.Context(), startTime, endTime)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stats,
	})
}

// GetErrorLogs 获取失败记录
func (api *ExchangeAPI) GetErrorLogs(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logs, err := api.service.GetErrorLogs(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetExchange 获取一次收发的发送/接收记录
func (api *ExchangeAPI) GetExchange(c *gin.Context) {
	id := c.Param("id")
	logs, err := api.service.GetExchange(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}
	if len(logs) == 0 {
		abortWithError(c, errors.New(errors.ErrNotFound, id))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": logs,
	})
}

// CleanupLogs 清理旧记录
func (api *ExchangeAPI) CleanupLogs(c *gin.Context) {
	var req struct {
		RetentionDays int `json:"retention_days" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	deleted, err := api.service.CleanupOldLogs(c.Request.Context(), req.RetentionDays)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseDelete))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":        "清理成功",
		"deleted":        deleted,
		"retention_days": req.RetentionDays,
	})
}

// ExportLogs 导出记录为JSON文件
func (api *ExchangeAPI) ExportLogs(c *gin.Context) {
	query := &models.ExchangeLogQuery{
		Port:       c.Query("port"),
		ExchangeID: c.Query("exchange_id"),
		SessionID:  c.Query("session_id"),
	}
	var err error
	if query.StartTime, err = parseTime(c, "start_time"); err != nil {
		abortWithError(c, err)
		return
	}
	if query.EndTime, err = parseTime(c, "end_time"); err != nil {
		abortWithError(c, err)
		return
	}
	if query.Limit, err = intQuery(c, "limit", maxPageSize); err != nil {
		abortWithError(c, err)
		return
	}

	data, err := api.service.ExportLogs(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, errors.Wrap(err, errors.ErrDatabaseQuery))
		return
	}

	filename := "exchanges_" + time.Now().Format("20060102_150405") + ".json"
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/json", data)
}

// parseTime 解析RFC3339时间参数
func parseTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidParam, "%s: %s", key, v)
	}
	return &t, nil
}

// intQuery 解析分页参数，限制在 [0, maxPageSize]
func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Newf(errors.ErrInvalidParam, "%s: %s", key, v)
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

// abortWithError 按错误码返回统一的错误响应
func abortWithError(c *gin.Context, err error) {
	// 已经是AppError时保留原错误码
	appErr := errors.Wrap(err, errors.ErrUnknown)
	c.AbortWithStatusJSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, middleware.GetRequestID(c)))
}
