package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crm-sync/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// LogArchiver copies sync logs into an external SQL reporting database
// before retention purges delete them from Mongo. Postgres and MySQL are
// supported; the archiver is disabled when no DSN is configured.
type LogArchiver struct {
	dbType string // "postgresql" or "mysql"
	dsn    string
}

func NewLogArchiver(cfg *config.Config) *LogArchiver {
	return &LogArchiver{
		dbType: cfg.LogArchiveDBType,
		dsn:    cfg.LogArchiveDSN,
	}
}

func (a *LogArchiver) Enabled() bool {
	return a.dsn != "" && (a.dbType == "postgresql" || a.dbType == "mysql")
}

func (a *LogArchiver) open(ctx context.Context) (*sql.DB, error) {
	driver := a.dbType
	if a.dbType == "postgresql" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, a.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}
	db.SetMaxOpenConns(5)
	return db, nil
}

const archiveTableDDL = `CREATE TABLE IF NOT EXISTS sync_log_archive (
	id VARCHAR(32) PRIMARY KEY,
	connection_id VARCHAR(32) NOT NULL,
	entity_mapping_id VARCHAR(32),
	platform_entity_type VARCHAR(32),
	platform_id VARCHAR(64),
	crm_entity_name VARCHAR(128),
	crm_id VARCHAR(128),
	direction VARCHAR(16),
	action VARCHAR(16),
	status VARCHAR(16),
	error_detail TEXT,
	duration_ms BIGINT,
	created_at TIMESTAMP
)`

// Archive upserts the given logs into the sync_log_archive table. Re-runs
// after a partial failure are safe; the primary key dedupes.
func (a *LogArchiver) Archive(ctx context.Context, logs []SyncLog) error {
	db, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, archiveTableDDL); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}

	columns := []string{"id", "connection_id", "entity_mapping_id", "platform_entity_type",
		"platform_id", "crm_entity_name", "crm_id", "direction", "action", "status",
		"error_detail", "duration_ms", "created_at"}

	var query string
	if a.dbType == "postgresql" {
		placeholders := make([]string, len(columns))
		for i := range columns {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		query = fmt.Sprintf("INSERT INTO sync_log_archive (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
			strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
		query = fmt.Sprintf("INSERT IGNORE INTO sync_log_archive (%s) VALUES (%s)",
			strings.Join(columns, ", "), placeholders)
	}

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for i := range logs {
		log := &logs[i]
		_, err := stmt.ExecContext(ctx,
			log.ID.Hex(),
			log.ConnectionID.Hex(),
			log.EntityMappingID.Hex(),
			string(log.PlatformEntityType),
			log.PlatformID,
			log.CrmEntityName,
			log.CrmID,
			string(log.Direction),
			log.Action,
			log.Status,
			log.ErrorDetail,
			log.DurationMs,
			log.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to archive log %s: %w", log.ID.Hex(), err)
		}
	}
	return nil
}
