package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/route"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

// recorder accumulates one request log across the proxy pipeline and
// writes it at most once. Recording is disabled on legacy paths and when
// logging is switched off; the recorder still tracks state so error paths
// stay uniform.
type recorder struct {
	sink    LogSink
	logger  *slog.Logger
	enabled bool
	start   time.Time
	log     store.RequestLog
	written bool
}

func newRecorder(sink LogSink, logger *slog.Logger, enabled bool, r *http.Request) *recorder {
	return &recorder{
		sink:    sink,
		logger:  logger,
		enabled: enabled,
		start:   time.Now(),
		log: store.RequestLog{
			Method:         r.Method,
			Path:           r.URL.Path,
			RequestHeaders: store.HeaderMap(r.Header),
		},
	}
}

func (rc *recorder) setBody(body string) {
	rc.log.RequestBody = body
}

func (rc *recorder) classified(content config.ContentType) {
	rc.log.ContentType = content
}

func (rc *recorder) resolved(res route.Resolution) {
	rc.log.TargetType = res.Route.TargetType
	rc.log.TargetServiceID = res.Service.ID
	rc.log.TargetServiceName = res.Service.Name
	rc.log.VendorID = res.Vendor.ID
	rc.log.VendorName = res.Vendor.Name

	rc.log.TargetProvider = res.Vendor.Name
	if rc.log.TargetProvider == "" {
		rc.log.TargetProvider = res.Service.Name
	}
}

func (rc *recorder) models(requested, final string) {
	rc.log.RequestModel = requested
	rc.log.TargetModel = final
}

// fail records a terminal outcome with no upstream response.
func (rc *recorder) fail(status int, msg string) {
	rc.log.StatusCode = status
	rc.log.Error = msg
	rc.flush()
}

// finish records the upstream outcome. chunks is nil for buffered
// exchanges; errMsg marks a stream that ended abnormally.
func (rc *recorder) finish(status int, headers http.Header, body string, chunks []string, usage dialect.TokenUsage, errMsg string) {
	rc.log.StatusCode = status
	rc.log.ResponseHeaders = store.HeaderMap(headers)
	rc.log.ResponseBody = body
	rc.log.StreamChunks = chunks
	rc.log.Usage = usage
	rc.log.Error = errMsg
	rc.flush()
}

func (rc *recorder) flush() {
	if rc.written {
		return
	}

	rc.written = true
	rc.log.ResponseTime = time.Since(rc.start).Milliseconds()

	if !rc.enabled {
		return
	}

	if err := rc.sink.AppendRequestLog(rc.log); err != nil {
		rc.logger.Error("append request log", "error", err)
	}
}
