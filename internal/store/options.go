package store

import (
	"strconv"

	"gorm.io/gorm"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

// optionRow is a key/value pair; one row per application setting.
type optionRow struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     string
	CreatedAt int64  `gorm:"type:bigint;autoCreateTime:milli"`
	UpdatedAt int64  `gorm:"type:bigint;autoUpdateTime:milli"`
}

func (optionRow) TableName() string { return "options" }

const (
	optEnableLogging    = "enable_logging"
	optLogRetentionDays = "log_retention_days"
	optMaxLogSize       = "max_log_size"
	optAPIKey           = "api_key"
)

// AppConfig assembles the application configuration from the options table.
// Missing or unparsable rows fall back to the defaults, so a fresh database
// behaves sensibly before anything is saved.
func (s *Store) AppConfig() (config.AppConfig, error) {
	var rows []optionRow
	if err := s.db.Find(&rows).Error; err != nil {
		return config.AppConfig{}, err
	}

	cfg := config.DefaultAppConfig()

	for _, row := range rows {
		switch row.Key {
		case optEnableLogging:
			cfg.EnableLogging = row.Value == "true"
		case optLogRetentionDays:
			if n, err := strconv.Atoi(row.Value); err == nil {
				cfg.LogRetentionDays = n
			}
		case optMaxLogSize:
			if n, err := strconv.Atoi(row.Value); err == nil {
				cfg.MaxLogSize = n
			}
		case optAPIKey:
			cfg.APIKey = row.Value
		}
	}

	return cfg, nil
}

// SaveAppConfig writes every setting, one option row each.
func (s *Store) SaveAppConfig(cfg config.AppConfig) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return saveAppConfig(tx, cfg)
	})
}

func saveAppConfig(tx *gorm.DB, cfg config.AppConfig) error {
	opts := []optionRow{
		{Key: optEnableLogging, Value: strconv.FormatBool(cfg.EnableLogging)},
		{Key: optLogRetentionDays, Value: strconv.Itoa(cfg.LogRetentionDays)},
		{Key: optMaxLogSize, Value: strconv.Itoa(cfg.MaxLogSize)},
		{Key: optAPIKey, Value: cfg.APIKey},
	}

	for _, opt := range opts {
		if err := upsertOption(tx, opt.Key, opt.Value); err != nil {
			return err
		}
	}

	return nil
}

// upsertOption is update-first; the caller holds the transaction so there
// is no create race to retry.
func upsertOption(tx *gorm.DB, key, value string) error {
	res := tx.Model(&optionRow{}).Where("key = ?", key).Update("value", value)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		return nil
	}

	return tx.Create(&optionRow{Key: key, Value: value}).Error
}
