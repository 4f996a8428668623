// Package handlers carries the HTTP surface of the proxy: the dispatch
// engine translating client requests into upstream dialects, the admin
// CRUD API, and the health endpoint.
package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"

	"github.com/codeswitch-dev/aicodeswitch/internal/classify"
	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
	"github.com/codeswitch-dev/aicodeswitch/internal/middleware"
	"github.com/codeswitch-dev/aicodeswitch/internal/route"
	"github.com/codeswitch-dev/aicodeswitch/internal/sse"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
	"github.com/codeswitch-dev/aicodeswitch/internal/stream"
)

// anthropicVersion is sent to Claude-family upstreams when the client does
// not pin one itself.
const anthropicVersion = "2023-06-01"

// LogSink receives the records the engine produces.
type LogSink interface {
	AppendRequestLog(rec store.RequestLog) error
	AppendErrorLog(rec store.ErrorLog) error
}

// Engine proxies client requests to the routed upstream service,
// translating request bodies, buffered responses and event streams between
// wire dialects along the way.
type Engine struct {
	manager *config.Manager
	sink    LogSink
	client  *http.Client
	logger  *slog.Logger
}

func NewEngine(manager *config.Manager, sink LogSink, logger *slog.Logger) *Engine {
	return &Engine{
		manager: manager,
		sink:    sink,
		client:  &http.Client{},
		logger:  logger,
	}
}

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := e.manager.Current()
	target, legacy := splitSurface(r.URL.Path)

	rec := newRecorder(e.sink, e.logger, snap.App.EnableLogging && !legacy, r)
	defer rec.flush()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.fail(w, r, rec, "read request body: "+err.Error())
		return
	}

	rec.setBody(string(body))

	var payload map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			e.reject(w, r, rec, http.StatusBadRequest, "Invalid JSON in request body")
			return
		}
	}

	content := classify.Classify(r.Header, r.URL.Query(), payload)
	rec.classified(content)

	var res route.Resolution
	if legacy {
		res, err = route.ResolveLegacy(snap, r.URL.Path, content)
	} else {
		res, err = route.Resolve(snap, target, content)
	}

	if err != nil {
		switch {
		case errors.Is(err, route.ErrNoActiveRoute):
			e.reject(w, r, rec, http.StatusNotFound, "No active route configured")
		case errors.Is(err, route.ErrNoMatchingRule):
			e.reject(w, r, rec, http.StatusNotFound, "No matching rule for content type "+string(content))
		case errors.Is(err, route.ErrServiceMissing):
			e.reject(w, r, rec, http.StatusInternalServerError, "Target service missing")
		default:
			e.fail(w, r, rec, "resolve route: "+err.Error())
		}

		return
	}

	rec.resolved(res)

	requested := dialect.GetString(payload, "model")
	model := res.Model(requested)
	if payload != nil && model != "" {
		payload["model"] = model
	}

	rec.models(requested, model)

	upFam, ok := upstreamFamily(res.Service.SourceType)
	if !ok {
		e.reject(w, r, rec, http.StatusBadRequest, "Unsupported source type: "+string(res.Service.SourceType))
		return
	}

	clientFam := clientFamily(res.Route.TargetType)
	streaming := wantsStream(payload, r.Header)

	upstreamBody := body
	if payload != nil {
		out := transformRequest(payload, clientFam, upFam, res.Service.SourceType)

		data, err := json.Marshal(out)
		if err != nil {
			e.fail(w, r, rec, "encode upstream request: "+err.Error())
			return
		}

		upstreamBody = data
	}

	endpoint, err := endpointFor(res.Service, upFam)
	if err != nil {
		e.fail(w, r, rec, "service "+res.Service.Name+": "+err.Error())
		return
	}

	timeout := time.Duration(res.Service.TimeoutMS()) * time.Millisecond
	ctx, cancel, settle := dispatchContext(r.Context(), streaming, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, bytes.NewReader(upstreamBody))
	if err != nil {
		e.fail(w, r, rec, "build upstream request: "+err.Error())
		return
	}

	upstreamHeaders(req.Header, r.Header, res.Service, streaming)

	resp, err := e.client.Do(req)
	settle()

	if err != nil {
		if r.Context().Err() != nil {
			e.logger.Debug("client went away during dispatch", "path", r.URL.Path)
			rec.fail(0, "client disconnected")
			return
		}

		e.fail(w, r, rec, "upstream request failed: "+err.Error())
		return
	}

	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400:
		e.forwardUpstreamError(w, r, resp, upFam, rec)
	case isEventStream(resp.Header):
		e.streamResponse(w, r, resp, clientFam, upFam, rec, payload)
	default:
		e.bufferedResponse(w, r, resp, clientFam, upFam, rec, payload)
	}
}

// forwardUpstreamError relays a 4xx/5xx upstream response untouched, body
// bytes and headers alike. Only the log copy is decompressed; a usage
// object in the error body still lands in the request log.
func (e *Engine) forwardUpstreamError(w http.ResponseWriter, r *http.Request, resp *http.Response, upFam family, rec *recorder) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.fail(w, r, rec, "read upstream error response: "+err.Error())
		return
	}

	copyHeaders(w.Header(), resp.Header, "content-length")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)

	msg := "upstream status " + resp.Status
	middleware.AccessError(r.Context(), msg)

	logBody := decodeBody(raw, resp.Header.Get("Content-Encoding"))

	var usage dialect.TokenUsage
	var body map[string]any
	if err := json.Unmarshal([]byte(logBody), &body); err == nil {
		usage = usageFrom(body, upFam)
	}

	rec.finish(resp.StatusCode, resp.Header, logBody, nil, usage, msg)
}

// bufferedResponse translates a non-streaming 2xx response into the client
// dialect. Bodies that are not JSON pass through untouched.
func (e *Engine) bufferedResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, clientFam, upFam family, rec *recorder, payload map[string]any) {
	reader, err := decompressReader(resp)
	if err != nil {
		e.fail(w, r, rec, "decompress upstream response: "+err.Error())
		return
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		e.fail(w, r, rec, "read upstream response: "+err.Error())
		return
	}

	var upstream map[string]any
	if err := json.Unmarshal(data, &upstream); err != nil {
		copyHeaders(w.Header(), resp.Header, "content-encoding", "content-length")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(data)

		rec.finish(resp.StatusCode, resp.Header, string(data), nil, dialect.TokenUsage{}, "")
		return
	}

	usage := e.ensureUsage(usageFrom(upstream, upFam), payload)

	out := transformResponse(upstream, clientFam, upFam)

	encoded, err := json.Marshal(out)
	if err != nil {
		e.fail(w, r, rec, "encode response: "+err.Error())
		return
	}

	copyHeaders(w.Header(), resp.Header, "content-encoding", "content-length", "content-type")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(encoded)

	rec.finish(resp.StatusCode, resp.Header, string(encoded), nil, usage, "")
}

// streamResponse pipes an upstream event stream to the client, running
// events through the dialect bridge when the two sides differ. A client
// disconnect cancels the upstream read; the bridge still finalizes so the
// recorded stream is well terminated.
func (e *Engine) streamResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, clientFam, upFam family, rec *recorder, payload map[string]any) {
	reader, err := decompressReader(resp)
	if err != nil {
		e.fail(w, r, rec, "decompress upstream response: "+err.Error())
		return
	}

	copyHeaders(w.Header(), resp.Header, "content-encoding", "content-length", "content-type")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	bridge := streamBridge(clientFam, upFam)
	collector := stream.NewCollector()
	enc := sse.NewEncoder(w)
	dec := sse.NewDecoder(reader)

	var streamErr error

	for {
		ev, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}

			break
		}

		collector.Observe(ev)

		events := []sse.Event{ev}
		if bridge != nil {
			events = bridge.OnEvent(ev)
		}

		if err := writeEvents(enc, flusher, events); err != nil {
			streamErr = err
			break
		}
	}

	if bridge != nil {
		// Finalize closes any open blocks even when the client is gone;
		// write errors past this point are moot.
		_ = writeEvents(enc, flusher, bridge.Finalize())
	}

	var usage dialect.TokenUsage
	if bridge != nil {
		usage = bridge.Usage()
	}

	if usage.IsZero() {
		if collected, ok := collector.Usage(); ok {
			usage = collected
		}
	}

	usage = e.ensureUsage(usage, payload)

	errMsg := ""
	if streamErr != nil {
		errMsg = streamErr.Error()
		middleware.AccessError(r.Context(), errMsg)
		e.logger.Warn("stream interrupted", "path", r.URL.Path, "error", errMsg)
	}

	rec.finish(resp.StatusCode, resp.Header, "", collector.Chunks(), usage, errMsg)
}

// reject ends a request the proxy itself refuses. These are routing and
// validation outcomes, not faults, so no error log is written.
func (e *Engine) reject(w http.ResponseWriter, r *http.Request, rec *recorder, status int, msg string) {
	e.logger.Warn("request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"reason", msg,
	)

	middleware.AccessError(r.Context(), msg)
	rec.fail(status, msg)
	writeJSONError(w, status, msg)
}

// fail ends a request on an internal fault: 500 to the client and an error
// log entry with the request context, logging setting or not.
func (e *Engine) fail(w http.ResponseWriter, r *http.Request, rec *recorder, msg string) {
	e.logger.Error("proxy failure",
		"method", r.Method,
		"path", r.URL.Path,
		"error", msg,
	)

	if err := e.sink.AppendErrorLog(store.ErrorLog{
		Method:         r.Method,
		Path:           r.URL.Path,
		RequestHeaders: store.HeaderMap(r.Header),
		RequestBody:    rec.log.RequestBody,
		Message:        msg,
	}); err != nil {
		e.logger.Error("append error log", "error", err)
	}

	middleware.AccessError(r.Context(), msg)
	rec.fail(http.StatusInternalServerError, msg)
	writeJSONError(w, http.StatusInternalServerError, msg)
}

// ensureUsage falls back to a tokenizer estimate of the prompt when the
// upstream reported no usage at all.
func (e *Engine) ensureUsage(usage dialect.TokenUsage, payload map[string]any) dialect.TokenUsage {
	if !usage.IsZero() {
		return usage
	}

	var sb strings.Builder
	for _, key := range []string{"system", "instructions", "messages", "input"} {
		appendText(&sb, payload[key])
	}

	tokens := estimateTokens(strings.TrimSpace(sb.String()))
	if tokens == 0 {
		return usage
	}

	return dialect.TokenUsage{InputTokens: tokens, TotalTokens: tokens}
}

// splitSurface identifies the client surface a path belongs to. Paths
// outside the fixed prefixes take the legacy dynamic-path flow.
func splitSurface(path string) (config.TargetType, bool) {
	switch {
	case path == "/claude-code" || strings.HasPrefix(path, "/claude-code/"):
		return config.TargetClaudeCode, false
	case path == "/codex" || strings.HasPrefix(path, "/codex/"):
		return config.TargetCodex, false
	default:
		return "", true
	}
}

// wantsStream reports whether the client asked for a streaming exchange,
// via the body flag or the Accept header.
func wantsStream(payload map[string]any, header http.Header) bool {
	if v, ok := payload["stream"].(bool); ok && v {
		return true
	}

	return strings.Contains(header.Get("Accept"), "text/event-stream")
}

// endpointFor derives the upstream URL for a service. A bare origin gets
// the dialect's conventional path appended; a URL carrying a path is used
// exactly as configured.
func endpointFor(svc config.Service, upstream family) (string, error) {
	u, err := url.Parse(strings.TrimSpace(svc.APIURL))
	if err != nil {
		return "", errors.New("invalid service url")
	}

	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("service url needs a scheme and host")
	}

	if u.Path == "" || u.Path == "/" {
		u.Path = endpointPath(upstream)
	}

	return u.String(), nil
}

// upstreamHeaders builds the outgoing header set: client headers minus the
// hop and credential ones, then the service's own credentials. Claude-family
// upstreams authenticate with x-api-key, everything else with a bearer
// token. Accept-Encoding is left to the transport so plain gzip decodes
// transparently.
func upstreamHeaders(dst, src http.Header, svc config.Service, streaming bool) {
	copyHeaders(dst, src, "host", "connection", "content-length", "authorization", "x-api-key", "accept-encoding")

	if svc.SourceType.IsClaude() {
		dst.Set("x-api-key", svc.APIKey)
		if dst.Get("anthropic-version") == "" {
			dst.Set("anthropic-version", anthropicVersion)
		}
	} else {
		dst.Set("Authorization", "Bearer "+svc.APIKey)
	}

	dst.Set("Content-Type", "application/json")

	if streaming {
		dst.Set("Accept", "text/event-stream")
	}
}

// dispatchContext bounds the upstream exchange. Buffered requests carry the
// timeout end to end; streams carry it only until response headers arrive,
// after which settle stops the watchdog and the stream lives as long as
// both sides keep it open.
func dispatchContext(parent context.Context, streaming bool, timeout time.Duration) (context.Context, context.CancelFunc, func()) {
	if !streaming {
		ctx, cancel := context.WithTimeout(parent, timeout)
		return ctx, cancel, func() {}
	}

	ctx, cancel := context.WithCancel(parent)
	watchdog := time.AfterFunc(timeout, cancel)

	return ctx, cancel, func() { watchdog.Stop() }
}

func isEventStream(header http.Header) bool {
	return strings.Contains(strings.ToLower(header.Get("Content-Type")), "text/event-stream")
}

// decompressReader unwraps a compressed upstream body. Unknown encodings
// pass through as-is.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		return gz, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// decodeBody decompresses a buffered body for the log copy, falling back
// to the raw bytes when decoding fails.
func decodeBody(raw []byte, encoding string) string {
	switch strings.ToLower(encoding) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return string(raw)
		}

		if data, err := io.ReadAll(gz); err == nil {
			return string(data)
		}

		return string(raw)
	case "br":
		if data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw))); err == nil {
			return string(data)
		}

		return string(raw)
	default:
		return string(raw)
	}
}

func copyHeaders(dst, src http.Header, skip ...string) {
	drop := make(map[string]struct{}, len(skip))
	for _, key := range skip {
		drop[key] = struct{}{}
	}

	for key, values := range src {
		if _, skipped := drop[strings.ToLower(key)]; skipped {
			continue
		}

		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func writeEvents(enc *sse.Encoder, flusher http.Flusher, events []sse.Event) error {
	for _, ev := range events {
		if err := enc.Write(ev); err != nil {
			return err
		}
	}

	if len(events) > 0 && flusher != nil {
		flusher.Flush()
	}

	return nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// appendText walks a request body fragment collecting the human text in
// it, for tokenizer estimates when the upstream reports no usage.
func appendText(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
		sb.WriteByte(' ')
	case []any:
		for _, item := range t {
			appendText(sb, item)
		}
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			sb.WriteString(s)
			sb.WriteByte(' ')
			return
		}

		appendText(sb, t["content"])
	}
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}

	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		// Rough chars-per-token fallback when the encoding is unavailable.
		return len(text) / 4
	}

	return len(enc.Encode(text, nil, nil))
}
