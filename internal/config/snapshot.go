package config

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Source is the configuration read interface the snapshot is built from.
// The store implements it; tests substitute fakes.
type Source interface {
	ListActiveRoutes() ([]Route, error)
	ListRules(routeID string) ([]Rule, error)
	ListServices() ([]Service, error)
	ListVendors() ([]Vendor, error)
	AppConfig() (AppConfig, error)
}

// Snapshot is the immutable routing state the proxy engine resolves
// against. A snapshot is never mutated after construction; reloads build a
// fresh one and swap it in, so in-flight requests keep the snapshot they
// started with.
type Snapshot struct {
	ActiveRoutes map[TargetType]Route
	RulesByRoute map[string][]Rule
	ServicesByID map[string]Service
	VendorsByID  map[string]Vendor
	App          AppConfig
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		ActiveRoutes: map[TargetType]Route{},
		RulesByRoute: map[string][]Rule{},
		ServicesByID: map[string]Service{},
		VendorsByID:  map[string]Vendor{},
		App:          DefaultAppConfig(),
	}
}

// RouteFor returns the active route for a target type.
func (s *Snapshot) RouteFor(target TargetType) (Route, bool) {
	route, ok := s.ActiveRoutes[target]
	return route, ok
}

// Rules returns the route's rules in canonical content-type order.
func (s *Snapshot) Rules(routeID string) []Rule {
	return s.RulesByRoute[routeID]
}

func (s *Snapshot) Service(id string) (Service, bool) {
	svc, ok := s.ServicesByID[id]
	return svc, ok
}

func (s *Snapshot) Vendor(id string) (Vendor, bool) {
	vendor, ok := s.VendorsByID[id]
	return vendor, ok
}

// BuildSnapshot materializes the current configuration into a snapshot.
// When several routes of one target type are active, the first listed wins.
func BuildSnapshot(src Source) (*Snapshot, error) {
	snap := emptySnapshot()

	routes, err := src.ListActiveRoutes()
	if err != nil {
		return nil, fmt.Errorf("list active routes: %w", err)
	}

	for _, route := range routes {
		if _, taken := snap.ActiveRoutes[route.TargetType]; taken {
			continue
		}

		snap.ActiveRoutes[route.TargetType] = route

		rules, err := src.ListRules(route.ID)
		if err != nil {
			return nil, fmt.Errorf("list rules for route %s: %w", route.ID, err)
		}

		sort.SliceStable(rules, func(i, j int) bool {
			return ContentTypeOrder(rules[i].ContentType) < ContentTypeOrder(rules[j].ContentType)
		})
		snap.RulesByRoute[route.ID] = rules
	}

	services, err := src.ListServices()
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	for _, svc := range services {
		snap.ServicesByID[svc.ID] = svc
	}

	vendors, err := src.ListVendors()
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}

	for _, vendor := range vendors {
		snap.VendorsByID[vendor.ID] = vendor
	}

	app, err := src.AppConfig()
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}

	snap.App = app

	return snap, nil
}

// Manager owns the current snapshot and swaps it atomically on reload.
type Manager struct {
	source Source
	value  atomic.Value // *Snapshot
}

func NewManager(source Source) *Manager {
	return &Manager{source: source}
}

// Reload rebuilds the snapshot from the source and publishes it. On error
// the previous snapshot stays in place.
func (m *Manager) Reload() (*Snapshot, error) {
	snap, err := BuildSnapshot(m.source)
	if err != nil {
		return nil, err
	}

	m.value.Store(snap)

	return snap, nil
}

// Current returns the published snapshot. Before the first successful
// reload it returns an empty snapshot with default application config.
func (m *Manager) Current() *Snapshot {
	if v := m.value.Load(); v != nil {
		return v.(*Snapshot)
	}

	return emptySnapshot()
}
