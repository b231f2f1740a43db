package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/observability"
)

// BackupScheduler runs periodic backups on a 6-field cron schedule
// (seconds included) and prunes old archives after each run.
type BackupScheduler struct {
	backups *BackupService
	cfg     config.BackupScheduleConfig
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewBackupScheduler creates a backup scheduler.
func NewBackupScheduler(backups *BackupService, cfg config.BackupScheduleConfig) *BackupScheduler {
	return &BackupScheduler{
		backups: backups,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the scheduler.
func (s *BackupScheduler) WithLogger(logger *slog.Logger) *BackupScheduler {
	s.logger = observability.WithComponent(logger, "backup-scheduler")
	return s
}

// Start registers the cron entry and begins scheduling. Disabled schedules
// are a no-op.
func (s *BackupScheduler) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("scheduled backups disabled")
		return nil
	}
	if s.cron != nil {
		return fmt.Errorf("backup scheduler already started")
	}

	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(s.cfg.Cron, s.run); err != nil {
		return fmt.Errorf("parsing backup cron %q: %w", s.cfg.Cron, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("scheduled backups enabled",
		slog.String("cron", s.cfg.Cron),
		slog.Int("retention", s.cfg.Retention))
	return nil
}

// Stop halts scheduling and waits for a running backup to finish.
func (s *BackupScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *BackupScheduler) run() {
	ctx := context.Background()

	if _, err := s.backups.CreateBackup(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduled backup failed", slog.Any("error", err))
		return
	}
	if _, err := s.backups.CleanupOldBackups(ctx); err != nil {
		s.logger.WarnContext(ctx, "pruning old backups", slog.Any("error", err))
	}
}
