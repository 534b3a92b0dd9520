package scheduler

import (
	"context"
	"errors"
	"time"

	"crm-sync/internal/config"
	"crm-sync/internal/features/connection"
	sync_feature "crm-sync/internal/features/sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires incremental syncs for enabled connections whose sync
// interval has elapsed. One process-level cron ticks every minute; the
// per-connection lock in the orchestrator prevents overlapping runs.
type Scheduler struct {
	Config      *config.Config
	Logger      *zap.Logger
	Connections connection.ConnectionService
	Sync        sync_feature.SyncService

	cron      *cron.Cron
	semaphore chan struct{}
}

func NewScheduler(cfg *config.Config, logger *zap.Logger, connections connection.ConnectionService, syncService sync_feature.SyncService) *Scheduler {
	workers := cfg.MaxConcurrentSyncs
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		Config:      cfg,
		Logger:      logger,
		Connections: connections,
		Sync:        syncService,
		semaphore:   make(chan struct{}, workers),
	}
}

func (s *Scheduler) Start() error {
	if !s.Config.SchedulerEnabled {
		s.Logger.Info("scheduler is disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("* * * * *", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	s.Logger.Info("scheduler started", zap.Int("maxConcurrentSyncs", cap(s.semaphore)))
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.Logger.Info("scheduler stopped")
	}
}

// tick finds due connections and runs their incremental syncs on the
// bounded worker pool. A connection already syncing just misses this tick
// and is picked up by the next one.
func (s *Scheduler) tick() {
	ctx := context.Background()

	connections, err := s.Connections.ListEnabled(ctx)
	if err != nil {
		s.Logger.Error("scheduler failed to list connections", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range connections {
		conn := connections[i]
		if !s.due(&conn, now) {
			continue
		}
		if s.Sync.Busy(conn.ID.Hex()) {
			continue
		}

		s.semaphore <- struct{}{}
		go func() {
			defer func() { <-s.semaphore }()
			s.runOne(conn.ID.Hex(), conn.Name)
		}()
	}
}

func (s *Scheduler) due(conn *connection.Connection, now time.Time) bool {
	interval := time.Duration(conn.SyncIntervalMinutes) * time.Minute
	if interval <= 0 {
		return false
	}
	if conn.LastSyncAt.IsZero() {
		return true
	}
	return now.Sub(conn.LastSyncAt) >= interval
}

func (s *Scheduler) runOne(connectionID, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := s.Sync.SyncIncremental(ctx, connectionID)
	if err != nil {
		if errors.Is(err, sync_feature.ErrSyncInProgress) {
			return
		}
		s.Logger.Error("scheduled sync failed",
			zap.String("connectionId", connectionID),
			zap.String("connection", name),
			zap.Error(err))
		return
	}

	s.Logger.Info("scheduled sync completed",
		zap.String("connectionId", connectionID),
		zap.String("connection", name),
		zap.String("status", result.Status),
		zap.Int("processed", result.Stats.ProcessedCount))
}
