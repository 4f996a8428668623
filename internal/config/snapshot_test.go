package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	routes   []Route
	rules    map[string][]Rule
	services []Service
	vendors  []Vendor
	app      AppConfig
}

func (f *fakeSource) ListActiveRoutes() ([]Route, error)       { return f.routes, nil }
func (f *fakeSource) ListRules(routeID string) ([]Rule, error) { return f.rules[routeID], nil }
func (f *fakeSource) ListServices() ([]Service, error)         { return f.services, nil }
func (f *fakeSource) ListVendors() ([]Vendor, error)           { return f.vendors, nil }
func (f *fakeSource) AppConfig() (AppConfig, error)            { return f.app, nil }

func testSource() *fakeSource {
	return &fakeSource{
		routes: []Route{
			{ID: "r1", Name: "main", TargetType: TargetClaudeCode, IsActive: true},
			{ID: "r2", Name: "spare", TargetType: TargetClaudeCode, IsActive: true},
			{ID: "r3", Name: "codex", TargetType: TargetCodex, IsActive: true},
		},
		rules: map[string][]Rule{
			"r1": {
				{ID: "u2", RouteID: "r1", ContentType: ContentThinking, TargetServiceID: "s2"},
				{ID: "u1", RouteID: "r1", ContentType: ContentDefault, TargetServiceID: "s1"},
			},
			"r3": {
				{ID: "u3", RouteID: "r3", ContentType: ContentDefault, TargetServiceID: "s1"},
			},
		},
		services: []Service{
			{ID: "s1", VendorID: "v1", Name: "chat", SourceType: SourceOpenAIChat},
			{ID: "s2", VendorID: "v1", Name: "claude", SourceType: SourceClaudeChat},
		},
		vendors: []Vendor{{ID: "v1", Name: "acme"}},
		app:     AppConfig{EnableLogging: true, LogRetentionDays: 7, MaxLogSize: 10000},
	}
}

func TestBuildSnapshot(t *testing.T) {
	snap, err := BuildSnapshot(testSource())
	require.NoError(t, err)

	// First active route per target type wins.
	route, ok := snap.RouteFor(TargetClaudeCode)
	require.True(t, ok)
	assert.Equal(t, "r1", route.ID)

	route, ok = snap.RouteFor(TargetCodex)
	require.True(t, ok)
	assert.Equal(t, "r3", route.ID)

	// Rules come back in canonical content-type order.
	rules := snap.Rules("r1")
	require.Len(t, rules, 2)
	assert.Equal(t, ContentDefault, rules[0].ContentType)
	assert.Equal(t, ContentThinking, rules[1].ContentType)

	svc, ok := snap.Service("s2")
	require.True(t, ok)
	assert.Equal(t, SourceClaudeChat, svc.SourceType)

	vendor, ok := snap.Vendor("v1")
	require.True(t, ok)
	assert.Equal(t, "acme", vendor.Name)
}

func TestManager_ReloadSwapsAtomically(t *testing.T) {
	src := testSource()
	mgr := NewManager(src)

	first, err := mgr.Reload()
	require.NoError(t, err)
	assert.Same(t, first, mgr.Current())

	// A holder of the old snapshot keeps seeing it after a reload.
	src.routes = []Route{{ID: "r9", TargetType: TargetClaudeCode, IsActive: true}}

	second, err := mgr.Reload()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Same(t, second, mgr.Current())

	route, ok := first.RouteFor(TargetClaudeCode)
	require.True(t, ok)
	assert.Equal(t, "r1", route.ID, "old snapshot must be unaffected by reload")
}

func TestManager_CurrentBeforeReload(t *testing.T) {
	mgr := NewManager(testSource())

	snap := mgr.Current()
	require.NotNil(t, snap)

	_, ok := snap.RouteFor(TargetClaudeCode)
	assert.False(t, ok)
	assert.Equal(t, DefaultAppConfig(), snap.App)
}

func TestSourceTypeFamilies(t *testing.T) {
	tests := []struct {
		source    SourceType
		claude    bool
		chat      bool
		responses bool
	}{
		{SourceClaudeChat, true, false, false},
		{SourceClaudeCode, true, false, false},
		{SourceOpenAIChat, false, true, false},
		{SourceOpenAICode, false, true, false},
		{SourceDeepSeekChat, false, true, false},
		{SourceOpenAIResponses, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			assert.Equal(t, tt.claude, tt.source.IsClaude())
			assert.Equal(t, tt.chat, tt.source.IsChat())
			assert.Equal(t, tt.responses, tt.source.IsResponses())
			assert.True(t, tt.source.Valid())
		})
	}

	assert.False(t, SourceType("grok").Valid())
}

func TestServiceTimeoutDefault(t *testing.T) {
	assert.Equal(t, int64(DefaultTimeoutMS), Service{}.TimeoutMS())
	assert.Equal(t, int64(90000), Service{Timeout: 90000}.TimeoutMS())
}
