// Package store persists the routing configuration and the request logs in
// a single SQLite database. It is the concrete config.Source behind the
// snapshot manager and the sink behind the log recorder.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const busyTimeoutMS = 5000

var (
	ErrNotFound   = errors.New("record not found")
	ErrReferenced = errors.New("record is still referenced")
)

// Store wraps the database handle. All methods are safe for concurrent use;
// SQLite serializes writers behind the busy timeout.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema. path may carry DSN parameters, as in file:x?mode=memory.
func Open(path string, log *slog.Logger) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	dsn := fmt.Sprintf("%s%s_busy_timeout=%d", path, sep, busyTimeoutMS)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	models := []any{
		&vendorRow{},
		&serviceRow{},
		&routeRow{},
		&ruleRow{},
		&optionRow{},
		&requestLogRow{},
		&accessLogRow{},
		&errorLogRow{},
	}

	for _, m := range models {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}
