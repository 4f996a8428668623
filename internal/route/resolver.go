// Package route selects the upstream target for a classified request: the
// active route for the client surface, the rule matching the content
// class, and the service the rule points at.
package route

import (
	"errors"
	"strings"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

var (
	ErrNoActiveRoute  = errors.New("no active route for target type")
	ErrNoMatchingRule = errors.New("no matching rule for content type")
	ErrServiceMissing = errors.New("target service missing")
)

// Resolution is the selected target for one request. Vendor is best-effort
// log enrichment and may be zero.
type Resolution struct {
	Route       config.Route
	Rule        config.Rule
	Service     config.Service
	Vendor      config.Vendor
	ContentType config.ContentType
}

// Model returns the upstream model for a requested model, applying the
// rule's override when set.
func (r Resolution) Model(requested string) string {
	if r.Rule.TargetModel != "" {
		return r.Rule.TargetModel
	}

	return requested
}

// Resolve picks the target for a fixed-path request of the given client
// surface. Rules fall back to the default content class when the
// classified one has no rule.
func Resolve(snap *config.Snapshot, target config.TargetType, content config.ContentType) (Resolution, error) {
	route, ok := snap.RouteFor(target)
	if !ok {
		return Resolution{}, ErrNoActiveRoute
	}

	rule, ok := matchRule(snap.Rules(route.ID), content)
	if !ok {
		return Resolution{}, ErrNoMatchingRule
	}

	service, ok := snap.Service(rule.TargetServiceID)
	if !ok {
		return Resolution{}, ErrServiceMissing
	}

	res := Resolution{
		Route:       route,
		Rule:        rule,
		Service:     service,
		ContentType: content,
	}

	if vendor, ok := snap.Vendor(service.VendorID); ok {
		res.Vendor = vendor
	}

	return res, nil
}

// ResolveLegacy handles dynamic paths outside the fixed client prefixes.
// Responses-shaped paths prefer the codex route, everything else the
// claude-code route; when only one route is active it wins either way. The
// preference picks the route only, rule matching within it is final.
func ResolveLegacy(snap *config.Snapshot, path string, content config.ContentType) (Resolution, error) {
	order := []config.TargetType{config.TargetClaudeCode, config.TargetCodex}
	if strings.Contains(path, "/responses") {
		order = []config.TargetType{config.TargetCodex, config.TargetClaudeCode}
	}

	for _, target := range order {
		if _, ok := snap.RouteFor(target); ok {
			return Resolve(snap, target, content)
		}
	}

	return Resolution{}, ErrNoActiveRoute
}

func matchRule(rules []config.Rule, content config.ContentType) (config.Rule, bool) {
	var fallback *config.Rule

	for i := range rules {
		switch rules[i].ContentType {
		case content:
			return rules[i], true
		case config.ContentDefault:
			fallback = &rules[i]
		}
	}

	if fallback != nil {
		return *fallback, true
	}

	return config.Rule{}, false
}
