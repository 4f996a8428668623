package store

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
)

// RequestLog is one fully-resolved proxy exchange. Recorded only when
// logging is enabled and the request hit a client surface.
type RequestLog struct {
	ID                string             `json:"id"`
	Timestamp         int64              `json:"timestamp"` // unix milliseconds
	Method            string             `json:"method"`
	Path              string             `json:"path"`
	RequestHeaders    map[string]string  `json:"requestHeaders,omitempty"`
	RequestBody       string             `json:"requestBody,omitempty"`
	StatusCode        int                `json:"statusCode"`
	ResponseTime      int64              `json:"responseTime"` // milliseconds
	ContentType       config.ContentType `json:"contentType,omitempty"`
	TargetProvider    string             `json:"targetProvider,omitempty"`
	TargetType        config.TargetType  `json:"targetType,omitempty"`
	TargetServiceID   string             `json:"targetServiceId,omitempty"`
	TargetServiceName string             `json:"targetServiceName,omitempty"`
	TargetModel       string             `json:"targetModel,omitempty"`
	VendorID          string             `json:"vendorId,omitempty"`
	VendorName        string             `json:"vendorName,omitempty"`
	RequestModel      string             `json:"requestModel,omitempty"`
	ResponseHeaders   map[string]string  `json:"responseHeaders,omitempty"`
	ResponseBody      string             `json:"responseBody,omitempty"`
	StreamChunks      []string           `json:"streamChunks,omitempty"`
	Usage             dialect.TokenUsage `json:"usage"`
	Error             string             `json:"error,omitempty"`
}

// AccessLog is the lightweight per-request line written for every request,
// logging setting or not.
type AccessLog struct {
	ID           int64  `json:"id"`
	Timestamp    int64  `json:"timestamp"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	RemoteAddr   string `json:"remoteAddr,omitempty"`
	StatusCode   int    `json:"statusCode"`
	ResponseTime int64  `json:"responseTime"`
	Error        string `json:"error,omitempty"`
}

// ErrorLog captures a failure with enough request context to reproduce it.
type ErrorLog struct {
	ID             int64             `json:"id"`
	Timestamp      int64             `json:"timestamp"`
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
	RequestBody    string            `json:"requestBody,omitempty"`
	Message        string            `json:"message"`
	Stack          string            `json:"stack,omitempty"`
}

type requestLogRow struct {
	ID                string `gorm:"primaryKey;type:varchar(64)"`
	Timestamp         int64  `gorm:"index;type:bigint"`
	Method            string `gorm:"type:varchar(16)"`
	Path              string
	RequestHeaders    string
	RequestBody       string
	StatusCode        int    `gorm:"default:0"`
	ResponseTime      int64  `gorm:"type:bigint;default:0"`
	ContentType       string `gorm:"index;type:varchar(32)"`
	TargetProvider    string `gorm:"type:varchar(32)"`
	TargetType        string `gorm:"index;type:varchar(32)"`
	TargetServiceID   string `gorm:"index;type:varchar(64)"`
	TargetServiceName string `gorm:"type:varchar(128)"`
	TargetModel       string `gorm:"type:varchar(128)"`
	VendorID          string `gorm:"type:varchar(64)"`
	VendorName        string `gorm:"type:varchar(128)"`
	RequestModel      string `gorm:"type:varchar(128)"`
	ResponseHeaders   string
	ResponseBody      string
	StreamChunks      string
	InputTokens       int `gorm:"default:0"`
	OutputTokens      int `gorm:"default:0"`
	TotalTokens       int `gorm:"default:0"`
	CacheReadTokens   int `gorm:"default:0"`
	Error             string
}

func (requestLogRow) TableName() string { return "request_logs" }

func requestLogRowFrom(rec RequestLog) requestLogRow {
	return requestLogRow{
		ID:                rec.ID,
		Timestamp:         rec.Timestamp,
		Method:            rec.Method,
		Path:              rec.Path,
		RequestHeaders:    marshalJSON(rec.RequestHeaders),
		RequestBody:       rec.RequestBody,
		StatusCode:        rec.StatusCode,
		ResponseTime:      rec.ResponseTime,
		ContentType:       string(rec.ContentType),
		TargetProvider:    rec.TargetProvider,
		TargetType:        string(rec.TargetType),
		TargetServiceID:   rec.TargetServiceID,
		TargetServiceName: rec.TargetServiceName,
		TargetModel:       rec.TargetModel,
		VendorID:          rec.VendorID,
		VendorName:        rec.VendorName,
		RequestModel:      rec.RequestModel,
		ResponseHeaders:   marshalJSON(rec.ResponseHeaders),
		ResponseBody:      rec.ResponseBody,
		StreamChunks:      marshalJSON(rec.StreamChunks),
		InputTokens:       rec.Usage.InputTokens,
		OutputTokens:      rec.Usage.OutputTokens,
		TotalTokens:       rec.Usage.TotalTokens,
		CacheReadTokens:   rec.Usage.CacheReadInputTokens,
		Error:             rec.Error,
	}
}

func (r requestLogRow) toRecord() RequestLog {
	rec := RequestLog{
		ID:                r.ID,
		Timestamp:         r.Timestamp,
		Method:            r.Method,
		Path:              r.Path,
		RequestBody:       r.RequestBody,
		StatusCode:        r.StatusCode,
		ResponseTime:      r.ResponseTime,
		ContentType:       config.ContentType(r.ContentType),
		TargetProvider:    r.TargetProvider,
		TargetType:        config.TargetType(r.TargetType),
		TargetServiceID:   r.TargetServiceID,
		TargetServiceName: r.TargetServiceName,
		TargetModel:       r.TargetModel,
		VendorID:          r.VendorID,
		VendorName:        r.VendorName,
		RequestModel:      r.RequestModel,
		ResponseBody:      r.ResponseBody,
		Error:             r.Error,
		Usage: dialect.TokenUsage{
			InputTokens:          r.InputTokens,
			OutputTokens:         r.OutputTokens,
			TotalTokens:          r.TotalTokens,
			CacheReadInputTokens: r.CacheReadTokens,
		},
	}

	unmarshalJSON(r.RequestHeaders, &rec.RequestHeaders)
	unmarshalJSON(r.ResponseHeaders, &rec.ResponseHeaders)
	unmarshalJSON(r.StreamChunks, &rec.StreamChunks)

	return rec
}

// HeaderMap flattens an http.Header into the lowercase-keyed map the log
// records store. Multi-valued headers join with a comma.
func HeaderMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}

	m := make(map[string]string, len(h))
	for key, values := range h {
		m[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	return m
}

func marshalJSON(v any) string {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return ""
		}
	case []string:
		if len(t) == 0 {
			return ""
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}

	return string(data)
}

func unmarshalJSON(data string, v any) {
	if data == "" {
		return
	}

	// Columns are written by marshalJSON; a decode failure leaves the
	// field empty rather than failing the whole read.
	_ = json.Unmarshal([]byte(data), v)
}

type accessLogRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Timestamp    int64  `gorm:"index;type:bigint"`
	Method       string `gorm:"type:varchar(16)"`
	Path         string
	RemoteAddr   string `gorm:"type:varchar(64)"`
	StatusCode   int    `gorm:"default:0"`
	ResponseTime int64  `gorm:"type:bigint;default:0"`
	Error        string
}

func (accessLogRow) TableName() string { return "access_logs" }

type errorLogRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Timestamp      int64  `gorm:"index;type:bigint"`
	Method         string `gorm:"type:varchar(16)"`
	Path           string
	RequestHeaders string
	RequestBody    string
	Message        string
	Stack          string
}

func (errorLogRow) TableName() string { return "error_logs" }

// AppendRequestLog persists a completed exchange. Id and timestamp are
// filled when the caller leaves them zero.
func (s *Store) AppendRequestLog(rec RequestLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	row := requestLogRowFrom(rec)

	return s.db.Create(&row).Error
}

// AppendAccessLog writes the initial access line and returns its id so the
// completion hook can patch in the outcome.
func (s *Store) AppendAccessLog(rec AccessLog) (int64, error) {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	row := accessLogRow{
		Timestamp:    rec.Timestamp,
		Method:       rec.Method,
		Path:         rec.Path,
		RemoteAddr:   rec.RemoteAddr,
		StatusCode:   rec.StatusCode,
		ResponseTime: rec.ResponseTime,
		Error:        rec.Error,
	}

	if err := s.db.Create(&row).Error; err != nil {
		return 0, err
	}

	return row.ID, nil
}

// UpdateAccessLog patches the outcome onto an access line written earlier.
func (s *Store) UpdateAccessLog(id int64, statusCode int, responseTime int64, errMsg string) error {
	res := s.db.Model(&accessLogRow{}).Where("id = ?", id).Updates(map[string]any{
		"status_code":   statusCode,
		"response_time": responseTime,
		"error":         errMsg,
	})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *Store) AppendErrorLog(rec ErrorLog) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}

	row := errorLogRow{
		Timestamp:      rec.Timestamp,
		Method:         rec.Method,
		Path:           rec.Path,
		RequestHeaders: marshalJSON(rec.RequestHeaders),
		RequestBody:    rec.RequestBody,
		Message:        rec.Message,
		Stack:          rec.Stack,
	}

	return s.db.Create(&row).Error
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LogQuery filters and pages a request-log listing. Zero values mean
// unfiltered / first page / default size.
type LogQuery struct {
	TargetType  string
	ContentType string
	ServiceID   string
	Page        int
	PageSize    int
}

// ListRequestLogs returns one page, newest first, plus the filtered total.
func (s *Store) ListRequestLogs(q LogQuery) ([]RequestLog, int64, error) {
	tx := s.db.Model(&requestLogRow{})

	if q.TargetType != "" {
		tx = tx.Where("target_type = ?", q.TargetType)
	}

	if q.ContentType != "" {
		tx = tx.Where("content_type = ?", q.ContentType)
	}

	if q.ServiceID != "" {
		tx = tx.Where("target_service_id = ?", q.ServiceID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}

	size := q.PageSize
	if size < 1 {
		size = defaultPageSize
	}

	if size > maxPageSize {
		size = maxPageSize
	}

	var rows []requestLogRow
	if err := tx.Order("timestamp DESC, id DESC").Limit(size).Offset((page - 1) * size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]RequestLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}

	return out, total, nil
}

func (s *Store) GetRequestLog(id string) (RequestLog, error) {
	var row requestLogRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		return RequestLog{}, wrapNotFound(err)
	}

	return row.toRecord(), nil
}

// ClearRequestLogs deletes every request log and reports how many went.
func (s *Store) ClearRequestLogs() (int64, error) {
	res := s.db.Where("1 = 1").Delete(&requestLogRow{})

	return res.RowsAffected, res.Error
}

// ServiceUsage is the aggregate token spend attributed to one service.
type ServiceUsage struct {
	ServiceID       string `json:"serviceId" gorm:"column:service_id"`
	ServiceName     string `json:"serviceName" gorm:"column:service_name"`
	Requests        int64  `json:"requests" gorm:"column:requests"`
	InputTokens     int64  `json:"inputTokens" gorm:"column:input_tokens"`
	OutputTokens    int64  `json:"outputTokens" gorm:"column:output_tokens"`
	CacheReadTokens int64  `json:"cacheReadTokens" gorm:"column:cache_read_tokens"`
	TotalTokens     int64  `json:"totalTokens" gorm:"column:total_tokens"`
}

// UsageByService aggregates request logs per target service, busiest first.
func (s *Store) UsageByService() ([]ServiceUsage, error) {
	var out []ServiceUsage

	err := s.db.Raw(`
		SELECT target_service_id as service_id,
		       target_service_name as service_name,
		       count(1) as requests,
		       ifnull(sum(input_tokens),0) as input_tokens,
		       ifnull(sum(output_tokens),0) as output_tokens,
		       ifnull(sum(cache_read_tokens),0) as cache_read_tokens,
		       ifnull(sum(total_tokens),0) as total_tokens
		FROM request_logs
		GROUP BY target_service_id, target_service_name
		ORDER BY requests DESC`).Scan(&out).Error
	if err != nil {
		return nil, err
	}

	return out, nil
}
