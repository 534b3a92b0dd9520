package sync

import (
	"context"
	"fmt"
	"time"

	"crm-sync/internal/config"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

func parseOptionalObjectID(hex string) (primitive.ObjectID, error) {
	if hex == "" {
		return primitive.NilObjectID, nil
	}
	return primitive.ObjectIDFromHex(hex)
}

// SyncLogService is the read/maintenance side of the audit trail: listing,
// aggregate stats, XLSX export and retention purges with an optional
// archive to an external reporting database.
type SyncLogService interface {
	ListLogs(ctx context.Context, filter SyncLogFilter) ([]SyncLog, error)
	GetStats(ctx context.Context, connectionID string) (*SyncLogStats, error)
	ExportLogs(ctx context.Context, filter SyncLogFilter) ([]byte, string, error)
	PurgeLogs(ctx context.Context, olderThanDays int) (int64, error)
}

type SyncLogServiceImpl struct {
	Repo     SyncLogRepository
	Archiver *LogArchiver
	Config   *config.Config
	Logger   *zap.Logger
}

func NewSyncLogService(repo SyncLogRepository, archiver *LogArchiver, cfg *config.Config, logger *zap.Logger) SyncLogService {
	return &SyncLogServiceImpl{
		Repo:     repo,
		Archiver: archiver,
		Config:   cfg,
		Logger:   logger,
	}
}

func (s *SyncLogServiceImpl) ListLogs(ctx context.Context, filter SyncLogFilter) ([]SyncLog, error) {
	return s.Repo.List(ctx, filter)
}

func (s *SyncLogServiceImpl) GetStats(ctx context.Context, connectionID string) (*SyncLogStats, error) {
	connID, err := parseOptionalObjectID(connectionID)
	if err != nil {
		return nil, err
	}
	return s.Repo.Stats(ctx, connID)
}

// ExportLogs renders the filtered logs as an XLSX workbook and returns the
// file bytes plus a download filename.
func (s *SyncLogServiceImpl) ExportLogs(ctx context.Context, filter SyncLogFilter) ([]byte, string, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 100000
	}
	logs, err := s.Repo.List(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sync Logs"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Time", "Connection", "Entity", "Platform ID", "CRM ID", "Direction", "Action", "Status", "Error", "Duration (ms)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, "", err
		}
	}

	for i, log := range logs {
		row := []any{
			log.CreatedAt.Format("2006-01-02 15:04:05"),
			log.ConnectionID.Hex(),
			log.CrmEntityName,
			log.PlatformID,
			log.CrmID,
			string(log.Direction),
			log.Action,
			log.Status,
			log.ErrorDetail,
			log.DurationMs,
		}
		for j, val := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return nil, "", err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("sync_logs_%s.xlsx", time.Now().Format("20060102_150405"))
	return buf.Bytes(), filename, nil
}

// PurgeLogs archives then deletes logs older than the given retention. The
// archive step is skipped when no reporting database is configured; an
// archive failure aborts the purge so no audit row is lost.
func (s *SyncLogServiceImpl) PurgeLogs(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = s.Config.LogRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	if s.Archiver != nil && s.Archiver.Enabled() {
		logs, err := s.Repo.ListOlderThan(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		if len(logs) > 0 {
			if err := s.Archiver.Archive(ctx, logs); err != nil {
				return 0, fmt.Errorf("archiving logs before purge: %w", err)
			}
			s.Logger.Info("archived sync logs", zap.Int("count", len(logs)))
		}
	}

	deleted, err := s.Repo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.Logger.Info("purged sync logs", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	return deleted, nil
}
