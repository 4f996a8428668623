package store

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/dialect"
)

// newTestStore opens an isolated in-memory database. The shared cache keeps
// the database alive across the pool's connections.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	s, err := Open(dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func seedVendorService(t *testing.T, s *Store) (config.Vendor, config.Service) {
	t.Helper()

	vendor, err := s.CreateVendor(config.Vendor{Name: "OpenAI"})
	require.NoError(t, err)

	service, err := s.CreateService(config.Service{
		VendorID:        vendor.ID,
		Name:            "gpt-main",
		APIURL:          "https://api.openai.com",
		APIKey:          "sk-test",
		SourceType:      config.SourceOpenAIChat,
		SupportedModels: []string{"gpt-4o", "gpt-4o-mini"},
	})
	require.NoError(t, err)

	return vendor, service
}

func TestVendorServiceLifecycle(t *testing.T) {
	s := newTestStore(t)

	vendor, service := seedVendorService(t, s)
	assert.NotEmpty(t, vendor.ID)
	assert.NotEmpty(t, service.ID)

	_, err := s.CreateService(config.Service{
		VendorID:   "missing",
		Name:       "orphan",
		APIURL:     "https://example.com",
		SourceType: config.SourceOpenAIChat,
	})
	require.ErrorIs(t, err, ErrNotFound)

	services, err := s.ListServices()
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, services[0].SupportedModels)

	service.Name = "gpt-renamed"
	service.Timeout = 60000

	updated, err := s.UpdateService(service)
	require.NoError(t, err)
	assert.Equal(t, "gpt-renamed", updated.Name)
	assert.Equal(t, int64(60000), updated.Timeout)

	err = s.DeleteVendor(vendor.ID)
	require.ErrorIs(t, err, ErrReferenced)

	require.NoError(t, s.DeleteService(service.ID))
	require.NoError(t, s.DeleteVendor(vendor.ID))
	require.ErrorIs(t, s.DeleteVendor(vendor.ID), ErrNotFound)
}

func TestCreateServiceRejectsUnknownSourceType(t *testing.T) {
	s := newTestStore(t)

	vendor, err := s.CreateVendor(config.Vendor{Name: "Acme"})
	require.NoError(t, err)

	_, err = s.CreateService(config.Service{
		VendorID:   vendor.ID,
		Name:       "bad",
		APIURL:     "https://example.com",
		SourceType: "carrier-pigeon",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source type")
}

func TestRouteActivation(t *testing.T) {
	s := newTestStore(t)

	routeA, err := s.CreateRoute(config.Route{Name: "main", TargetType: config.TargetClaudeCode, IsActive: true})
	require.NoError(t, err)

	// Creating a second active route for the same target displaces the first.
	routeB, err := s.CreateRoute(config.Route{Name: "alt", TargetType: config.TargetClaudeCode, IsActive: true})
	require.NoError(t, err)

	routeC, err := s.CreateRoute(config.Route{Name: "codex", TargetType: config.TargetCodex, IsActive: true})
	require.NoError(t, err)

	active, err := s.ListActiveRoutes()
	require.NoError(t, err)
	require.Len(t, active, 2)

	byTarget := map[config.TargetType]config.Route{}
	for _, rt := range active {
		byTarget[rt.TargetType] = rt
	}

	assert.Equal(t, routeB.ID, byTarget[config.TargetClaudeCode].ID)
	assert.Equal(t, routeC.ID, byTarget[config.TargetCodex].ID)

	activated, err := s.ActivateRoute(routeA.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	routes, err := s.ListRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 3)

	for _, rt := range routes {
		switch rt.ID {
		case routeA.ID, routeC.ID:
			assert.True(t, rt.IsActive, rt.Name)
		case routeB.ID:
			assert.False(t, rt.IsActive, rt.Name)
		}
	}

	_, err = s.ActivateRoute("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRuleUpsertAndRouteCascade(t *testing.T) {
	s := newTestStore(t)

	_, service := seedVendorService(t, s)

	route, err := s.CreateRoute(config.Route{Name: "main", TargetType: config.TargetClaudeCode, IsActive: true})
	require.NoError(t, err)

	rule, err := s.UpsertRule(config.Rule{
		RouteID:         route.ID,
		ContentType:     config.ContentDefault,
		TargetServiceID: service.ID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)

	// Same (route, contentType) replaces in place and keeps the id.
	replaced, err := s.UpsertRule(config.Rule{
		RouteID:         route.ID,
		ContentType:     config.ContentDefault,
		TargetServiceID: service.ID,
		TargetModel:     "gpt-4o-mini",
	})
	require.NoError(t, err)
	assert.Equal(t, rule.ID, replaced.ID)
	assert.Equal(t, "gpt-4o-mini", replaced.TargetModel)

	rules, err := s.ListRules(route.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	_, err = s.UpsertRule(config.Rule{RouteID: "missing", ContentType: config.ContentDefault, TargetServiceID: service.ID})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpsertRule(config.Rule{RouteID: route.ID, ContentType: config.ContentDefault, TargetServiceID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpsertRule(config.Rule{RouteID: route.ID, ContentType: "weird", TargetServiceID: service.ID})
	require.Error(t, err)

	err = s.DeleteService(service.ID)
	require.ErrorIs(t, err, ErrReferenced)

	require.NoError(t, s.DeleteRoute(route.ID))

	rules, err = s.ListRules(route.ID)
	require.NoError(t, err)
	assert.Empty(t, rules)

	require.NoError(t, s.DeleteService(service.ID))
}

func TestAppConfigDefaultsAndSave(t *testing.T) {
	s := newTestStore(t)

	cfg, err := s.AppConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAppConfig(), cfg)

	custom := config.AppConfig{
		EnableLogging:    false,
		LogRetentionDays: 30,
		MaxLogSize:       500,
		APIKey:           "secret",
	}
	require.NoError(t, s.SaveAppConfig(custom))

	cfg, err = s.AppConfig()
	require.NoError(t, err)
	assert.Equal(t, custom, cfg)

	custom.APIKey = ""
	custom.EnableLogging = true
	require.NoError(t, s.SaveAppConfig(custom))

	cfg, err = s.AppConfig()
	require.NoError(t, err)
	assert.Equal(t, custom, cfg)
}

func TestRequestLogRoundTripAndPaging(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UnixMilli()

	first := RequestLog{
		Timestamp:         base - 2000,
		Method:            "POST",
		Path:              "/claude-code/v1/messages",
		RequestHeaders:    map[string]string{"content-type": "application/json"},
		RequestBody:       `{"model":"claude-sonnet-4"}`,
		StatusCode:        200,
		ResponseTime:      342,
		ContentType:       config.ContentDefault,
		TargetProvider:    string(config.SourceOpenAIChat),
		TargetType:        config.TargetClaudeCode,
		TargetServiceID:   "svc-1",
		TargetServiceName: "gpt-main",
		TargetModel:       "gpt-4o",
		RequestModel:      "claude-sonnet-4",
		ResponseHeaders:   map[string]string{"content-type": "text/event-stream"},
		StreamChunks:      []string{`{"type":"message_start"}`, "[DONE]"},
		Usage:             dialect.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CacheReadInputTokens: 3},
	}
	require.NoError(t, s.AppendRequestLog(first))

	require.NoError(t, s.AppendRequestLog(RequestLog{
		Timestamp:       base - 1000,
		Method:          "POST",
		Path:            "/codex/v1/responses",
		StatusCode:      200,
		ContentType:     config.ContentThinking,
		TargetType:      config.TargetCodex,
		TargetServiceID: "svc-2",
	}))

	require.NoError(t, s.AppendRequestLog(RequestLog{
		Timestamp:       base,
		Method:          "POST",
		Path:            "/claude-code/v1/messages",
		StatusCode:      500,
		ContentType:     config.ContentDefault,
		TargetType:      config.TargetClaudeCode,
		TargetServiceID: "svc-1",
		Error:           "upstream request failed",
	}))

	logs, total, err := s.ListRequestLogs(LogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 3)
	assert.Equal(t, base, logs[0].Timestamp, "newest first")

	got, err := s.GetRequestLog(logs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, first.RequestHeaders, got.RequestHeaders)
	assert.Equal(t, first.ResponseHeaders, got.ResponseHeaders)
	assert.Equal(t, first.StreamChunks, got.StreamChunks)
	assert.Equal(t, first.Usage, got.Usage)
	assert.Equal(t, first.RequestBody, got.RequestBody)

	_, err = s.GetRequestLog("missing")
	require.ErrorIs(t, err, ErrNotFound)

	logs, total, err = s.ListRequestLogs(LogQuery{TargetType: string(config.TargetCodex)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, "/codex/v1/responses", logs[0].Path)

	logs, total, err = s.ListRequestLogs(LogQuery{ContentType: string(config.ContentDefault), ServiceID: "svc-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	logs, total, err = s.ListRequestLogs(LogQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 1)
	assert.Equal(t, base-2000, logs[0].Timestamp)

	deleted, err := s.ClearRequestLogs()
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	_, total, err = s.ListRequestLogs(LogQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUsageByService(t *testing.T) {
	s := newTestStore(t)

	for i := range 3 {
		require.NoError(t, s.AppendRequestLog(RequestLog{
			Path:              "/claude-code/v1/messages",
			TargetServiceID:   "svc-1",
			TargetServiceName: "gpt-main",
			Usage:             dialect.TokenUsage{InputTokens: 10 + i, OutputTokens: 5, TotalTokens: 15 + i, CacheReadInputTokens: 2},
		}))
	}

	require.NoError(t, s.AppendRequestLog(RequestLog{
		Path:              "/codex/v1/responses",
		TargetServiceID:   "svc-2",
		TargetServiceName: "claude-main",
		Usage:             dialect.TokenUsage{InputTokens: 100, OutputTokens: 50, TotalTokens: 150},
	}))

	usage, err := s.UsageByService()
	require.NoError(t, err)
	require.Len(t, usage, 2)

	assert.Equal(t, "svc-1", usage[0].ServiceID, "busiest first")
	assert.Equal(t, int64(3), usage[0].Requests)
	assert.Equal(t, int64(33), usage[0].InputTokens)
	assert.Equal(t, int64(15), usage[0].OutputTokens)
	assert.Equal(t, int64(6), usage[0].CacheReadTokens)
	assert.Equal(t, int64(48), usage[0].TotalTokens)

	assert.Equal(t, "svc-2", usage[1].ServiceID)
	assert.Equal(t, int64(1), usage[1].Requests)
}

func TestAccessLogPatch(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AppendAccessLog(AccessLog{Method: "POST", Path: "/claude-code/v1/messages", RemoteAddr: "127.0.0.1"})
	require.NoError(t, err)
	assert.Positive(t, id)

	require.NoError(t, s.UpdateAccessLog(id, 200, 87, ""))

	var row accessLogRow
	require.NoError(t, s.db.First(&row, "id = ?", id).Error)
	assert.Equal(t, 200, row.StatusCode)
	assert.Equal(t, int64(87), row.ResponseTime)
	assert.Empty(t, row.Error)

	require.NoError(t, s.UpdateAccessLog(id, 502, 13, "upstream request failed"))

	require.NoError(t, s.db.First(&row, "id = ?", id).Error)
	assert.Equal(t, 502, row.StatusCode)
	assert.Equal(t, "upstream request failed", row.Error)

	require.ErrorIs(t, s.UpdateAccessLog(9999, 200, 1, ""), ErrNotFound)
}

func TestCleanExpiredLogs(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UnixMilli()
	old := time.Now().AddDate(0, 0, -10).UnixMilli()

	require.NoError(t, s.AppendRequestLog(RequestLog{Timestamp: old, Path: "/old"}))
	require.NoError(t, s.AppendRequestLog(RequestLog{Timestamp: now, Path: "/new"}))

	_, err := s.AppendAccessLog(AccessLog{Timestamp: old, Path: "/old"})
	require.NoError(t, err)
	_, err = s.AppendAccessLog(AccessLog{Timestamp: now, Path: "/new"})
	require.NoError(t, err)

	require.NoError(t, s.AppendErrorLog(ErrorLog{Timestamp: old, Message: "old failure"}))

	deleted, err := s.CleanExpiredLogs(config.AppConfig{LogRetentionDays: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	logs, total, err := s.ListRequestLogs(LogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, "/new", logs[0].Path)

	var accessCount int64
	require.NoError(t, s.db.Model(&accessLogRow{}).Count(&accessCount).Error)
	assert.Equal(t, int64(1), accessCount)

	var errorCount int64
	require.NoError(t, s.db.Model(&errorLogRow{}).Count(&errorCount).Error)
	assert.Zero(t, errorCount)
}

func TestCleanExpiredLogsCapsRequestLogs(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UnixMilli()
	for i := range 5 {
		require.NoError(t, s.AppendRequestLog(RequestLog{
			Timestamp: base + int64(i),
			Path:      fmt.Sprintf("/req/%d", i),
		}))
	}

	deleted, err := s.CleanExpiredLogs(config.AppConfig{MaxLogSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	logs, total, err := s.ListRequestLogs(LogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 2)
	assert.Equal(t, "/req/4", logs[0].Path, "newest rows survive")
	assert.Equal(t, "/req/3", logs[1].Path)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)

	_, service := seedVendorService(t, src)

	route, err := src.CreateRoute(config.Route{Name: "main", TargetType: config.TargetClaudeCode, IsActive: true})
	require.NoError(t, err)

	_, err = src.UpsertRule(config.Rule{
		RouteID:         route.ID,
		ContentType:     config.ContentDefault,
		TargetServiceID: service.ID,
		TargetModel:     "gpt-4o",
	})
	require.NoError(t, err)

	require.NoError(t, src.SaveAppConfig(config.AppConfig{
		EnableLogging:    true,
		LogRetentionDays: 14,
		MaxLogSize:       100,
		APIKey:           "bundle-key",
	}))

	bundle, err := src.Export()
	require.NoError(t, err)

	dst := newTestStore(t)
	require.NoError(t, dst.Import(bundle))

	again, err := dst.Export()
	require.NoError(t, err)
	assert.Equal(t, bundle, again)
}

func TestImportRejectsInvalidBundle(t *testing.T) {
	s := newTestStore(t)

	bundle := Bundle{
		Routes: []config.Route{{ID: "r1", Name: "main", TargetType: config.TargetClaudeCode}},
		Rules:  []config.Rule{{ID: "x", RouteID: "r1", ContentType: config.ContentDefault, TargetServiceID: "missing"}},
		App:    config.DefaultAppConfig(),
	}

	err := s.Import(bundle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")

	vendors, err := s.ListVendors()
	require.NoError(t, err)
	assert.Empty(t, vendors)
}

func TestValidateBundle(t *testing.T) {
	valid := Bundle{
		Vendors: []config.Vendor{{ID: "v1", Name: "OpenAI"}},
		Services: []config.Service{{
			ID:         "s1",
			VendorID:   "v1",
			Name:       "gpt-main",
			APIURL:     "https://api.openai.com",
			SourceType: config.SourceOpenAIChat,
		}},
		Routes: []config.Route{
			{ID: "r1", Name: "main", TargetType: config.TargetClaudeCode, IsActive: true},
			{ID: "r2", Name: "backup", TargetType: config.TargetClaudeCode},
		},
		Rules: []config.Rule{
			{ID: "x1", RouteID: "r1", ContentType: config.ContentDefault, TargetServiceID: "s1"},
			{ID: "x2", RouteID: "r1", ContentType: config.ContentThinking, TargetServiceID: "s1"},
		},
	}

	require.NoError(t, ValidateBundle(valid))

	tests := []struct {
		name    string
		mutate  func(*Bundle)
		wantErr string
	}{
		{
			name: "unknown vendor reference",
			mutate: func(b *Bundle) {
				b.Services[0].VendorID = "ghost"
			},
			wantErr: "unknown vendor",
		},
		{
			name: "invalid source type",
			mutate: func(b *Bundle) {
				b.Services[0].SourceType = "smoke-signals"
			},
			wantErr: "source type",
		},
		{
			name: "missing api url",
			mutate: func(b *Bundle) {
				b.Services[0].APIURL = ""
			},
			wantErr: "no api url",
		},
		{
			name: "two active routes per target",
			mutate: func(b *Bundle) {
				b.Routes[1].IsActive = true
			},
			wantErr: "both active",
		},
		{
			name: "duplicate rule per content type",
			mutate: func(b *Bundle) {
				b.Rules[1].ContentType = config.ContentDefault
			},
			wantErr: "two rules",
		},
		{
			name: "rule references unknown route",
			mutate: func(b *Bundle) {
				b.Rules[0].RouteID = "ghost"
			},
			wantErr: "unknown route",
		},
		{
			name: "invalid rule content type",
			mutate: func(b *Bundle) {
				b.Rules[0].ContentType = "telepathy"
			},
			wantErr: "content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			b.Vendors = append([]config.Vendor(nil), valid.Vendors...)
			b.Services = append([]config.Service(nil), valid.Services...)
			b.Routes = append([]config.Route(nil), valid.Routes...)
			b.Rules = append([]config.Rule(nil), valid.Rules...)

			tt.mutate(&b)

			err := ValidateBundle(b)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
