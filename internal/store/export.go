package store

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

// Bundle is the portable form of the whole routing configuration. Logs are
// not part of it.
type Bundle struct {
	Vendors  []config.Vendor  `json:"vendors"`
	Services []config.Service `json:"services"`
	Routes   []config.Route   `json:"routes"`
	Rules    []config.Rule    `json:"rules"`
	App      config.AppConfig `json:"app"`
}

// Export snapshots the full configuration.
func (s *Store) Export() (Bundle, error) {
	var (
		b   Bundle
		err error
	)

	if b.Vendors, err = s.ListVendors(); err != nil {
		return Bundle{}, err
	}

	if b.Services, err = s.ListServices(); err != nil {
		return Bundle{}, err
	}

	if b.Routes, err = s.ListRoutes(); err != nil {
		return Bundle{}, err
	}

	if b.Rules, err = s.ListRules(""); err != nil {
		return Bundle{}, err
	}

	if b.App, err = s.AppConfig(); err != nil {
		return Bundle{}, err
	}

	return b, nil
}

// Import validates the bundle and replaces the entire configuration with it
// in one transaction. Logs are untouched.
func (s *Store) Import(b Bundle) error {
	fillBundleIDs(&b)

	if err := ValidateBundle(b); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&ruleRow{}, &routeRow{}, &serviceRow{}, &vendorRow{}} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return err
			}
		}

		for _, v := range b.Vendors {
			if err := tx.Create(&vendorRow{ID: v.ID, Name: v.Name}).Error; err != nil {
				return err
			}
		}

		for _, svc := range b.Services {
			row := serviceRowFrom(svc)
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, rt := range b.Routes {
			row := routeRow{ID: rt.ID, Name: rt.Name, TargetType: string(rt.TargetType), IsActive: rt.IsActive}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		for _, r := range b.Rules {
			row := ruleRow{
				ID:              r.ID,
				RouteID:         r.RouteID,
				ContentType:     string(r.ContentType),
				TargetServiceID: r.TargetServiceID,
				TargetModel:     r.TargetModel,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return saveAppConfig(tx, b.App)
	})
}

func fillBundleIDs(b *Bundle) {
	for i := range b.Vendors {
		if b.Vendors[i].ID == "" {
			b.Vendors[i].ID = uuid.NewString()
		}
	}

	for i := range b.Services {
		if b.Services[i].ID == "" {
			b.Services[i].ID = uuid.NewString()
		}
	}

	for i := range b.Routes {
		if b.Routes[i].ID == "" {
			b.Routes[i].ID = uuid.NewString()
		}
	}

	for i := range b.Rules {
		if b.Rules[i].ID == "" {
			b.Rules[i].ID = uuid.NewString()
		}
	}
}

// ValidateBundle checks referential integrity and the single-active-route
// invariant without touching any database.
func ValidateBundle(b Bundle) error {
	vendors := make(map[string]bool, len(b.Vendors))
	for _, v := range b.Vendors {
		if v.ID == "" {
			return fmt.Errorf("vendor %q has no id", v.Name)
		}

		if vendors[v.ID] {
			return fmt.Errorf("duplicate vendor id %s", v.ID)
		}

		vendors[v.ID] = true
	}

	services := make(map[string]bool, len(b.Services))
	for _, svc := range b.Services {
		if svc.ID == "" {
			return fmt.Errorf("service %q has no id", svc.Name)
		}

		if services[svc.ID] {
			return fmt.Errorf("duplicate service id %s", svc.ID)
		}

		services[svc.ID] = true

		if !vendors[svc.VendorID] {
			return fmt.Errorf("service %s references unknown vendor %s", svc.ID, svc.VendorID)
		}

		if !svc.SourceType.Valid() {
			return fmt.Errorf("service %s has unknown source type %q", svc.ID, svc.SourceType)
		}

		if svc.APIURL == "" {
			return fmt.Errorf("service %s has no api url", svc.ID)
		}
	}

	routes := make(map[string]bool, len(b.Routes))
	activePerTarget := make(map[config.TargetType]string)

	for _, rt := range b.Routes {
		if rt.ID == "" {
			return fmt.Errorf("route %q has no id", rt.Name)
		}

		if routes[rt.ID] {
			return fmt.Errorf("duplicate route id %s", rt.ID)
		}

		routes[rt.ID] = true

		if !rt.TargetType.Valid() {
			return fmt.Errorf("route %s has unknown target type %q", rt.ID, rt.TargetType)
		}

		if rt.IsActive {
			if other, ok := activePerTarget[rt.TargetType]; ok {
				return fmt.Errorf("routes %s and %s are both active for %s", other, rt.ID, rt.TargetType)
			}

			activePerTarget[rt.TargetType] = rt.ID
		}
	}

	seen := make(map[string]bool, len(b.Rules))

	for _, r := range b.Rules {
		if !routes[r.RouteID] {
			return fmt.Errorf("rule %s references unknown route %s", r.ID, r.RouteID)
		}

		if !services[r.TargetServiceID] {
			return fmt.Errorf("rule %s references unknown service %s", r.ID, r.TargetServiceID)
		}

		if !r.ContentType.Valid() {
			return fmt.Errorf("rule %s has unknown content type %q", r.ID, r.ContentType)
		}

		key := r.RouteID + "/" + string(r.ContentType)
		if seen[key] {
			return fmt.Errorf("route %s has two rules for %s", r.RouteID, r.ContentType)
		}

		seen[key] = true
	}

	return nil
}
