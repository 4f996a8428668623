package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

type vendorRow struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Name      string `gorm:"type:varchar(128)"`
	CreatedAt int64  `gorm:"type:bigint;autoCreateTime:milli"`
	UpdatedAt int64  `gorm:"type:bigint;autoUpdateTime:milli"`
}

func (vendorRow) TableName() string { return "vendors" }

func (r vendorRow) toVendor() config.Vendor {
	return config.Vendor{ID: r.ID, Name: r.Name}
}

type serviceRow struct {
	ID              string `gorm:"primaryKey;type:varchar(64)"`
	VendorID        string `gorm:"index;type:varchar(64)"`
	Name            string `gorm:"type:varchar(128)"`
	APIURL          string
	APIKey          string
	Timeout         int64  `gorm:"type:bigint;default:0"`
	SourceType      string `gorm:"type:varchar(32)"`
	SupportedModels string
	CreatedAt       int64  `gorm:"type:bigint;autoCreateTime:milli"`
	UpdatedAt       int64  `gorm:"type:bigint;autoUpdateTime:milli"`
}

func (serviceRow) TableName() string { return "services" }

func (r serviceRow) toService() config.Service {
	var models []string
	if r.SupportedModels != "" {
		// Written by us as JSON; tolerate hand-edited rows.
		_ = json.Unmarshal([]byte(r.SupportedModels), &models)
	}

	return config.Service{
		ID:              r.ID,
		VendorID:        r.VendorID,
		Name:            r.Name,
		APIURL:          r.APIURL,
		APIKey:          r.APIKey,
		Timeout:         r.Timeout,
		SourceType:      config.SourceType(r.SourceType),
		SupportedModels: models,
	}
}

func serviceRowFrom(svc config.Service) serviceRow {
	models := ""
	if len(svc.SupportedModels) > 0 {
		data, _ := json.Marshal(svc.SupportedModels)
		models = string(data)
	}

	return serviceRow{
		ID:              svc.ID,
		VendorID:        svc.VendorID,
		Name:            svc.Name,
		APIURL:          svc.APIURL,
		APIKey:          svc.APIKey,
		Timeout:         svc.Timeout,
		SourceType:      string(svc.SourceType),
		SupportedModels: models,
	}
}

type routeRow struct {
	ID         string `gorm:"primaryKey;type:varchar(64)"`
	Name       string `gorm:"type:varchar(128)"`
	TargetType string `gorm:"index;type:varchar(32)"`
	IsActive   bool   `gorm:"index"`
	CreatedAt  int64  `gorm:"type:bigint;autoCreateTime:milli"`
	UpdatedAt  int64  `gorm:"type:bigint;autoUpdateTime:milli"`
}

func (routeRow) TableName() string { return "routes" }

func (r routeRow) toRoute() config.Route {
	return config.Route{
		ID:         r.ID,
		Name:       r.Name,
		TargetType: config.TargetType(r.TargetType),
		IsActive:   r.IsActive,
	}
}

type ruleRow struct {
	ID              string `gorm:"primaryKey;type:varchar(64)"`
	RouteID         string `gorm:"index:idx_rules_route_content,unique;type:varchar(64)"`
	ContentType     string `gorm:"index:idx_rules_route_content,unique;type:varchar(32)"`
	TargetServiceID string `gorm:"index;type:varchar(64)"`
	TargetModel     string `gorm:"type:varchar(128)"`
	CreatedAt       int64  `gorm:"type:bigint;autoCreateTime:milli"`
	UpdatedAt       int64  `gorm:"type:bigint;autoUpdateTime:milli"`
}

func (ruleRow) TableName() string { return "rules" }

func (r ruleRow) toRule() config.Rule {
	return config.Rule{
		ID:              r.ID,
		RouteID:         r.RouteID,
		ContentType:     config.ContentType(r.ContentType),
		TargetServiceID: r.TargetServiceID,
		TargetModel:     r.TargetModel,
	}
}

// CreateVendor inserts a vendor, assigning an id when none is given.
func (s *Store) CreateVendor(v config.Vendor) (config.Vendor, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	row := vendorRow{ID: v.ID, Name: v.Name}
	if err := s.db.Create(&row).Error; err != nil {
		return config.Vendor{}, err
	}

	return row.toVendor(), nil
}

func (s *Store) UpdateVendor(v config.Vendor) (config.Vendor, error) {
	var row vendorRow
	if err := s.db.First(&row, "id = ?", v.ID).Error; err != nil {
		return config.Vendor{}, wrapNotFound(err)
	}

	row.Name = v.Name
	if err := s.db.Save(&row).Error; err != nil {
		return config.Vendor{}, err
	}

	return row.toVendor(), nil
}

// DeleteVendor refuses to delete a vendor that still owns services.
func (s *Store) DeleteVendor(id string) error {
	var n int64
	if err := s.db.Model(&serviceRow{}).Where("vendor_id = ?", id).Count(&n).Error; err != nil {
		return err
	}

	if n > 0 {
		return fmt.Errorf("vendor %s has %d services: %w", id, n, ErrReferenced)
	}

	return s.deleteByID(&vendorRow{}, id)
}

func (s *Store) ListVendors() ([]config.Vendor, error) {
	var rows []vendorRow
	if err := s.db.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]config.Vendor, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toVendor())
	}

	return out, nil
}

// CreateService inserts a service after validating its vendor and dialect.
func (s *Store) CreateService(svc config.Service) (config.Service, error) {
	if err := s.checkService(svc); err != nil {
		return config.Service{}, err
	}

	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}

	row := serviceRowFrom(svc)
	if err := s.db.Create(&row).Error; err != nil {
		return config.Service{}, err
	}

	return row.toService(), nil
}

func (s *Store) UpdateService(svc config.Service) (config.Service, error) {
	if err := s.checkService(svc); err != nil {
		return config.Service{}, err
	}

	var row serviceRow
	if err := s.db.First(&row, "id = ?", svc.ID).Error; err != nil {
		return config.Service{}, wrapNotFound(err)
	}

	updated := serviceRowFrom(svc)
	updated.CreatedAt = row.CreatedAt
	if err := s.db.Save(&updated).Error; err != nil {
		return config.Service{}, err
	}

	return updated.toService(), nil
}

func (s *Store) checkService(svc config.Service) error {
	if !svc.SourceType.Valid() {
		return fmt.Errorf("unknown source type %q", svc.SourceType)
	}

	var n int64
	if err := s.db.Model(&vendorRow{}).Where("id = ?", svc.VendorID).Count(&n).Error; err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("vendor %s: %w", svc.VendorID, ErrNotFound)
	}

	return nil
}

// DeleteService refuses to delete a service that a rule still targets.
func (s *Store) DeleteService(id string) error {
	var n int64
	if err := s.db.Model(&ruleRow{}).Where("target_service_id = ?", id).Count(&n).Error; err != nil {
		return err
	}

	if n > 0 {
		return fmt.Errorf("service %s is targeted by %d rules: %w", id, n, ErrReferenced)
	}

	return s.deleteByID(&serviceRow{}, id)
}

func (s *Store) ListServices() ([]config.Service, error) {
	var rows []serviceRow
	if err := s.db.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]config.Service, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toService())
	}

	return out, nil
}

// CreateRoute inserts a route. A route created active deactivates any other
// active route for the same target type; the one-active-per-target
// invariant holds at every commit point.
func (s *Store) CreateRoute(rt config.Route) (config.Route, error) {
	if !rt.TargetType.Valid() {
		return config.Route{}, fmt.Errorf("unknown target type %q", rt.TargetType)
	}

	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}

	row := routeRow{ID: rt.ID, Name: rt.Name, TargetType: string(rt.TargetType), IsActive: rt.IsActive}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if row.IsActive {
			if err := deactivateSiblings(tx, row.TargetType, row.ID); err != nil {
				return err
			}
		}

		return tx.Create(&row).Error
	})
	if err != nil {
		return config.Route{}, err
	}

	return row.toRoute(), nil
}

func (s *Store) UpdateRoute(rt config.Route) (config.Route, error) {
	if !rt.TargetType.Valid() {
		return config.Route{}, fmt.Errorf("unknown target type %q", rt.TargetType)
	}

	var row routeRow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", rt.ID).Error; err != nil {
			return wrapNotFound(err)
		}

		row.Name = rt.Name
		row.TargetType = string(rt.TargetType)
		row.IsActive = rt.IsActive

		if row.IsActive {
			if err := deactivateSiblings(tx, row.TargetType, row.ID); err != nil {
				return err
			}
		}

		return tx.Save(&row).Error
	})
	if err != nil {
		return config.Route{}, err
	}

	return row.toRoute(), nil
}

// ActivateRoute makes the route the single active one for its target type.
func (s *Store) ActivateRoute(id string) (config.Route, error) {
	var row routeRow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return wrapNotFound(err)
		}

		if err := deactivateSiblings(tx, row.TargetType, row.ID); err != nil {
			return err
		}

		row.IsActive = true

		return tx.Save(&row).Error
	})
	if err != nil {
		return config.Route{}, err
	}

	return row.toRoute(), nil
}

func deactivateSiblings(tx *gorm.DB, targetType, keepID string) error {
	return tx.Model(&routeRow{}).
		Where("target_type = ? AND id <> ? AND is_active = ?", targetType, keepID, true).
		Update("is_active", false).Error
}

// DeleteRoute removes the route together with its rules.
func (s *Store) DeleteRoute(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("route_id = ?", id).Delete(&ruleRow{}).Error; err != nil {
			return err
		}

		res := tx.Delete(&routeRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		return nil
	})
}

func (s *Store) ListRoutes() ([]config.Route, error) {
	var rows []routeRow
	if err := s.db.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]config.Route, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRoute())
	}

	return out, nil
}

func (s *Store) ListActiveRoutes() ([]config.Route, error) {
	var rows []routeRow
	if err := s.db.Where("is_active = ?", true).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]config.Route, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRoute())
	}

	return out, nil
}

// UpsertRule creates or replaces the rule for (routeId, contentType). An
// existing rule keeps its id; the service and model override are replaced.
func (s *Store) UpsertRule(r config.Rule) (config.Rule, error) {
	if !r.ContentType.Valid() {
		return config.Rule{}, fmt.Errorf("unknown content type %q", r.ContentType)
	}

	var row ruleRow

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&routeRow{}).Where("id = ?", r.RouteID).Count(&n).Error; err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("route %s: %w", r.RouteID, ErrNotFound)
		}

		if err := tx.Model(&serviceRow{}).Where("id = ?", r.TargetServiceID).Count(&n).Error; err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("service %s: %w", r.TargetServiceID, ErrNotFound)
		}

		err := tx.First(&row, "route_id = ? AND content_type = ?", r.RouteID, string(r.ContentType)).Error
		switch {
		case err == nil:
			row.TargetServiceID = r.TargetServiceID
			row.TargetModel = r.TargetModel

			return tx.Save(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			if r.ID == "" {
				r.ID = uuid.NewString()
			}

			row = ruleRow{
				ID:              r.ID,
				RouteID:         r.RouteID,
				ContentType:     string(r.ContentType),
				TargetServiceID: r.TargetServiceID,
				TargetModel:     r.TargetModel,
			}

			return tx.Create(&row).Error
		default:
			return err
		}
	})
	if err != nil {
		return config.Rule{}, err
	}

	return row.toRule(), nil
}

func (s *Store) DeleteRule(id string) error {
	return s.deleteByID(&ruleRow{}, id)
}

// ListRules lists the rules of one route, or every rule when routeID is
// empty.
func (s *Store) ListRules(routeID string) ([]config.Rule, error) {
	tx := s.db.Order("created_at")
	if routeID != "" {
		tx = tx.Where("route_id = ?", routeID)
	}

	var rows []ruleRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]config.Rule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRule())
	}

	return out, nil
}

func (s *Store) deleteByID(model any, id string) error {
	res := s.db.Delete(model, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
