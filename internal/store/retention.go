package store

import (
	"context"
	"time"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
)

const sweepInterval = time.Hour

// CleanExpiredLogs applies the retention policy once: rows older than the
// retention window go from every log table, then request logs are capped
// at MaxLogSize rows keeping the newest. Returns how many rows went.
func (s *Store) CleanExpiredLogs(cfg config.AppConfig) (int64, error) {
	var total int64

	if cfg.LogRetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.LogRetentionDays).UnixMilli()

		for _, m := range []any{&requestLogRow{}, &accessLogRow{}, &errorLogRow{}} {
			res := s.db.Where("timestamp < ?", cutoff).Delete(m)
			if res.Error != nil {
				return total, res.Error
			}

			total += res.RowsAffected
		}
	}

	if cfg.MaxLogSize > 0 {
		capped, err := s.capRequestLogs(cfg.MaxLogSize)
		total += capped

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (s *Store) capRequestLogs(max int) (int64, error) {
	var count int64
	if err := s.db.Model(&requestLogRow{}).Count(&count).Error; err != nil {
		return 0, err
	}

	if count <= int64(max) {
		return 0, nil
	}

	res := s.db.Exec(`
		DELETE FROM request_logs WHERE id NOT IN (
			SELECT id FROM request_logs ORDER BY timestamp DESC, id DESC LIMIT ?)`, max)

	return res.RowsAffected, res.Error
}

// StartRetentionSweeper sweeps immediately and then hourly until ctx is
// cancelled. The policy is re-read each sweep so config changes take
// effect without a restart.
func (s *Store) StartRetentionSweeper(ctx context.Context) {
	sweep := func() {
		cfg, err := s.AppConfig()
		if err != nil {
			s.log.Error("retention sweep: load config", "error", err)
			return
		}

		deleted, err := s.CleanExpiredLogs(cfg)
		if err != nil {
			s.log.Error("retention sweep failed", "error", err)
			return
		}

		if deleted > 0 {
			s.log.Info("retention sweep", "deleted", deleted)
		}
	}

	sweep()

	ticker := time.NewTicker(sweepInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}
