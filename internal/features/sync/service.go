package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/config"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/correlation"
	"crm-sync/internal/features/entity"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ProgressEvent is one per-record progress tick during a running sync.
type ProgressEvent struct {
	ConnectionID string `json:"connection_id"`
	EntityName   string `json:"entity_name"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
}

// ProgressSink receives live progress and final results. The websocket hub
// implements it; the orchestrator works fine without one.
type ProgressSink interface {
	PublishProgress(event ProgressEvent)
	PublishResult(connectionID string, result *SyncResult)
}

type SyncService interface {
	SyncAll(ctx context.Context, connectionID string) (*SyncResult, error)
	SyncIncremental(ctx context.Context, connectionID string) (*SyncResult, error)
	SyncEntityMapping(ctx context.Context, mappingID string, isFullSync bool) (*SyncResult, error)
	SyncRelationships(ctx context.Context, connectionID string) (*SyncResult, error)

	SyncOutbound(ctx context.Context, connectionID string, entityType common_models.EntityType, platformID string) (*SyncResult, error)
	TriggerOutboundSync(ctx context.Context, entityType common_models.EntityType, platformID string) (*SyncResult, error)
	SyncInbound(ctx context.Context, connectionID, crmEntityName, crmID string) (*SyncResult, error)
	ProcessWebhook(ctx context.Context, connectionID string, event *providers.CrmWebhookEvent) (*SyncResult, error)

	Busy(connectionID string) bool
	SetProgressSink(sink ProgressSink)
}

type SyncServiceImpl struct {
	Config       *config.Config
	Logger       *zap.Logger
	Registry     *providers.Registry
	Connections  connection.ConnectionService
	Mappings     mapping.EntityMappingRepository
	Correlations correlation.ExternalIDRepository
	Entities     entity.PlatformRecordRepository
	Logs         SyncLogRepository

	sink  ProgressSink
	locks *connectionLocks
}

func NewSyncService(
	cfg *config.Config,
	logger *zap.Logger,
	registry *providers.Registry,
	connections connection.ConnectionService,
	mappings mapping.EntityMappingRepository,
	correlations correlation.ExternalIDRepository,
	entities entity.PlatformRecordRepository,
	logs SyncLogRepository,
) SyncService {
	return &SyncServiceImpl{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Connections:  connections,
		Mappings:     mappings,
		Correlations: correlations,
		Entities:     entities,
		Logs:         logs,
		locks:        newConnectionLocks(),
	}
}

func (s *SyncServiceImpl) SetProgressSink(sink ProgressSink) {
	s.sink = sink
}

func (s *SyncServiceImpl) Busy(connectionID string) bool {
	return s.locks.Busy(connectionID)
}

func (s *SyncServiceImpl) progress(conn *connection.Connection, entityName string, current, total int) {
	if s.sink == nil {
		return
	}
	s.sink.PublishProgress(ProgressEvent{
		ConnectionID: conn.ID.Hex(),
		EntityName:   entityName,
		Current:      current,
		Total:        total,
	})
}

func (s *SyncServiceImpl) SyncAll(ctx context.Context, connectionID string) (*SyncResult, error) {
	return s.syncConnection(ctx, connectionID, false)
}

func (s *SyncServiceImpl) SyncIncremental(ctx context.Context, connectionID string) (*SyncResult, error) {
	return s.syncConnection(ctx, connectionID, true)
}

func (s *SyncServiceImpl) syncConnection(ctx context.Context, connectionID string, incremental bool) (*SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.locks.TryLock(connectionID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(connectionID)

	started := time.Now()
	result := &SyncResult{}

	var since *time.Time
	if incremental && !conn.LastSyncAt.IsZero() {
		cursor := conn.LastSyncAt
		since = &cursor
	}

	mappings, err := s.Mappings.ListEnabled(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("starting sync",
		zap.String("connectionId", connectionID),
		zap.Bool("incremental", incremental),
		zap.Int("mappings", len(mappings)))

	for i := range mappings {
		if ctx.Err() != nil {
			break
		}
		conn = s.syncMapping(ctx, conn, &mappings[i], since, result)
	}

	return s.finish(ctx, conn, result, started, true), nil
}

// syncMapping reconciles one enabled entity mapping in both permitted
// directions. A configuration error or vendor-side fetch failure aborts
// this mapping only; remaining mappings still run.
func (s *SyncServiceImpl) syncMapping(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, since *time.Time, result *SyncResult) *connection.Connection {
	entityDir, err := mapping.EntityDirection(conn.DefaultDirection, em)
	if err != nil {
		result.addError(fmt.Errorf("%s: %w: %v", em.CrmEntityName, ErrConfiguration, err))
		return conn
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		result.addError(err)
		return conn
	}

	var crmRecords []*providers.CrmRecord
	if entityDir.AllowsInbound() {
		conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
			var callErr error
			crmRecords, callErr = provider.ListRecords(ctx, creds, em.CrmEntityName, providers.ListOptions{
				ModifiedSince: since,
				ModifiedField: em.ModifiedDateField,
				Filter:        em.FilterExpression,
				Top:           s.Config.SyncPageSize,
			})
			return callErr
		})
		if err != nil {
			result.addError(fmt.Errorf("%s: fetching CRM records: %w", em.CrmEntityName, err))
			return conn
		}
	}

	var platformRecords []common_models.PlatformRecord
	if entityDir.AllowsOutbound() {
		if since != nil {
			platformRecords, err = s.Entities.ListModifiedSince(ctx, em.PlatformEntityType, *since)
		} else {
			platformRecords, err = s.Entities.List(ctx, em.PlatformEntityType, 1, 0)
		}
		if err != nil {
			result.addError(fmt.Errorf("%s: fetching platform records: %w", em.CrmEntityName, err))
			return conn
		}
	}

	total := len(crmRecords) + len(platformRecords)
	current := 0

	for _, rec := range crmRecords {
		if ctx.Err() != nil {
			return conn
		}
		conn = s.reconcileInbound(ctx, conn, em, rec, result)
		current++
		s.progress(conn, em.CrmEntityName, current, total)
	}
	for i := range platformRecords {
		if ctx.Err() != nil {
			return conn
		}
		conn = s.reconcileOutbound(ctx, conn, em, &platformRecords[i], result)
		current++
		s.progress(conn, em.CrmEntityName, current, total)
	}
	return conn
}

func (s *SyncServiceImpl) SyncEntityMapping(ctx context.Context, mappingID string, isFullSync bool) (*SyncResult, error) {
	em, err := s.Mappings.Get(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	conn, err := s.Connections.GetConnection(ctx, em.ConnectionID.Hex())
	if err != nil {
		return nil, err
	}
	if err := s.locks.TryLock(conn.ID.Hex()); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(conn.ID.Hex())

	started := time.Now()
	result := &SyncResult{}

	var since *time.Time
	if !isFullSync && !conn.LastSyncAt.IsZero() {
		cursor := conn.LastSyncAt
		since = &cursor
	}

	conn = s.syncMapping(ctx, conn, em, since, result)
	return s.finish(ctx, conn, result, started, false), nil
}

// SyncRelationships re-resolves only relationship lookups for already
// correlated record pairs. Ordinary field mappings are untouched, which
// makes it much cheaper than a full sync after bulk relationship repairs.
func (s *SyncServiceImpl) SyncRelationships(ctx context.Context, connectionID string) (*SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.locks.TryLock(connectionID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(connectionID)

	started := time.Now()
	result := &SyncResult{}

	mappings, err := s.Mappings.ListEnabled(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	for i := range mappings {
		em := &mappings[i]
		if len(em.RelationshipMappings) == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		conn = s.syncMappingRelationships(ctx, conn, em, result)
	}

	return s.finish(ctx, conn, result, started, false), nil
}

func (s *SyncServiceImpl) syncMappingRelationships(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, result *SyncResult) *connection.Connection {
	rows, err := s.Correlations.List(ctx, conn.ID, em.PlatformEntityType)
	if err != nil {
		result.addError(fmt.Errorf("%s: listing correlations: %w", em.CrmEntityName, err))
		return conn
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		result.addError(err)
		return conn
	}

	for i := range rows {
		row := &rows[i]
		if row.CrmEntityName != em.CrmEntityName {
			continue
		}
		if ctx.Err() != nil {
			return conn
		}

		started := time.Now()
		log := &SyncLog{
			ConnectionID:       conn.ID,
			EntityMappingID:    em.ID,
			PlatformEntityType: em.PlatformEntityType,
			PlatformID:         row.PlatformID.Hex(),
			CrmEntityName:      em.CrmEntityName,
			CrmID:              row.CrmID,
			Direction:          common_models.DirectionOutbound,
			Action:             ActionUpdate,
		}
		result.Stats.ProcessedCount++
		result.Stats.OutboundCount++

		prec, err := s.Entities.Get(ctx, em.PlatformEntityType, row.PlatformID)
		if err != nil {
			result.Stats.FailedCount++
			result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, row.PlatformID.Hex(), err))
			log.Status = StatusFailed
			log.ErrorDetail = err.Error()
			s.finishLog(ctx, log, started)
			continue
		}

		lookups := providers.NewCrmRecord()
		conn, err = s.resolveOutboundRelationships(ctx, conn, em, prec, lookups)
		if err != nil {
			result.Stats.FailedCount++
			result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, row.PlatformID.Hex(), err))
			log.Status = StatusFailed
			log.ErrorDetail = err.Error()
			s.finishLog(ctx, log, started)
			continue
		}
		if lookups.Len() == 0 {
			result.Stats.SkippedCount++
			log.Action = ActionSkip
			log.Status = StatusSkipped
			s.finishLog(ctx, log, started)
			continue
		}

		conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
			return provider.UpdateRecord(ctx, creds, em.CrmEntityName, row.CrmID, lookups)
		})
		if err != nil {
			result.Stats.FailedCount++
			result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, row.PlatformID.Hex(), err))
			log.Status = StatusFailed
			log.ErrorDetail = err.Error()
			s.finishLog(ctx, log, started)
			continue
		}

		result.Stats.SuccessCount++
		result.Stats.UpdatedCount++
		log.Status = StatusSuccess
		log.ChangedFields = lookups.ToMap()
		s.finishLog(ctx, log, started)
	}
	return conn
}

// SyncOutbound pushes one platform record to one connection's CRM, through
// every enabled entity mapping covering its type.
func (s *SyncServiceImpl) SyncOutbound(ctx context.Context, connectionID string, entityType common_models.EntityType, platformID string) (*SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.locks.TryLock(connectionID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(connectionID)

	started := time.Now()
	result := &SyncResult{}

	oid, err := primitive.ObjectIDFromHex(platformID)
	if err != nil {
		return nil, err
	}
	prec, err := s.Entities.Get(ctx, entityType, oid)
	if err != nil {
		return nil, err
	}

	mappings, err := s.Mappings.FindByPlatformType(ctx, conn.ID, string(entityType))
	if err != nil {
		return nil, err
	}

	for i := range mappings {
		em := &mappings[i]
		dir, err := mapping.EntityDirection(conn.DefaultDirection, em)
		if err != nil {
			result.addError(fmt.Errorf("%s: %w: %v", em.CrmEntityName, ErrConfiguration, err))
			continue
		}
		if !dir.AllowsOutbound() {
			continue
		}
		conn = s.reconcileOutbound(ctx, conn, em, prec, result)
	}

	return s.finish(ctx, conn, result, started, false), nil
}

// TriggerOutboundSync pushes one platform record to every enabled
// connection holding a matching entity mapping. A busy connection is
// reported in Errors and skipped, never waited on.
func (s *SyncServiceImpl) TriggerOutboundSync(ctx context.Context, entityType common_models.EntityType, platformID string) (*SyncResult, error) {
	connections, err := s.Connections.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	aggregate := &SyncResult{Success: true, Status: StatusSuccess}

	for i := range connections {
		conn := &connections[i]
		result, err := s.SyncOutbound(ctx, conn.ID.Hex(), entityType, platformID)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) || errors.Is(err, mongo.ErrNoDocuments) {
				aggregate.addError(fmt.Errorf("connection %s: %w", conn.Name, err))
				continue
			}
			return nil, err
		}
		aggregate.Stats.Add(result.Stats)
		aggregate.Errors = append(aggregate.Errors, result.Errors...)
		if !result.Success {
			aggregate.Success = false
			aggregate.Status = StatusFailed
		}
	}

	aggregate.Duration = time.Since(started)
	aggregate.Message = fmt.Sprintf("outbound sync of %s %s across %d connections", entityType, platformID, len(connections))
	return aggregate, nil
}

// SyncInbound pulls one CRM record by id into the platform, creating the
// correlation when none exists yet.
func (s *SyncServiceImpl) SyncInbound(ctx context.Context, connectionID, crmEntityName, crmID string) (*SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if err := s.locks.TryLock(connectionID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(connectionID)

	started := time.Now()
	result := &SyncResult{}
	conn, err = s.inboundByID(ctx, conn, crmEntityName, crmID, nil, result)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, conn, result, started, false), nil
}

// inboundByID reconciles one CRM record inbound. A partial record from a
// webhook is used as-is only when it covers every inbound-mapped field;
// single-property change events refetch the full record from the vendor so
// required fields are never reported missing.
func (s *SyncServiceImpl) inboundByID(ctx context.Context, conn *connection.Connection, crmEntityName, crmID string, partial *providers.CrmRecord, result *SyncResult) (*connection.Connection, error) {
	em, err := s.Mappings.FindByCrmEntity(ctx, conn.ID, crmEntityName)
	if err != nil {
		return conn, err
	}

	rec := partial
	if rec != nil && !partialCovers(conn, em, rec) {
		rec = nil
	}
	if rec == nil {
		provider, err := s.Registry.Get(conn.ProviderType)
		if err != nil {
			return conn, err
		}
		conn, err = s.withProvider(ctx, conn, func(creds providers.Credentials) error {
			var callErr error
			rec, callErr = provider.GetRecord(ctx, creds, crmEntityName, crmID)
			return callErr
		})
		if err != nil {
			return conn, err
		}
	}

	if _, ok := rec.Get(em.PrimaryKeyField); !ok {
		rec.Set(em.PrimaryKeyField, providers.String(crmID))
	}

	return s.reconcileInbound(ctx, conn, em, rec, result), nil
}

// partialCovers reports whether a webhook's partial record carries every
// inbound-mapped field and relationship lookup, so it can be applied
// without refetching.
func partialCovers(conn *connection.Connection, em *mapping.EntityMapping, rec *providers.CrmRecord) bool {
	for i := range em.FieldMappings {
		fm := &em.FieldMappings[i]
		dir, err := mapping.FieldDirection(conn.DefaultDirection, em, fm)
		if err != nil || !dir.AllowsInbound() {
			continue
		}
		if _, ok := rec.Get(fm.CrmField); !ok {
			return false
		}
	}
	for i := range em.RelationshipMappings {
		rm := &em.RelationshipMappings[i]
		dir, err := mapping.RelationshipDirection(conn.DefaultDirection, em, rm)
		if err != nil || !dir.AllowsInbound() {
			continue
		}
		if _, ok := rec.Get(rm.CrmLookupField); !ok {
			return false
		}
	}
	return true
}

// ProcessWebhook applies one parsed vendor event. Events for mappings that
// do not permit inbound flow are acknowledged and ignored. Duplicate
// deliveries land on the change detector and resolve to a skip.
func (s *SyncServiceImpl) ProcessWebhook(ctx context.Context, connectionID string, event *providers.CrmWebhookEvent) (*SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	em, err := s.Mappings.FindByCrmEntity(ctx, conn.ID, event.EntityName)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &SyncResult{Success: true, Status: StatusSuccess, Message: fmt.Sprintf("no mapping for %s, event ignored", event.EntityName)}, nil
	}
	if err != nil {
		return nil, err
	}

	dir, err := mapping.EntityDirection(conn.DefaultDirection, em)
	if err != nil {
		return &SyncResult{Status: StatusFailed, Errors: []string{err.Error()}}, nil
	}
	if !dir.AllowsInbound() {
		s.Logger.Info("webhook event acknowledged but mapping is outbound-only",
			zap.String("connectionId", connectionID),
			zap.String("entity", event.EntityName),
			zap.String("eventType", event.EventType))
		return &SyncResult{Success: true, Status: StatusSuccess, Message: "event acknowledged, direction is outbound-only"}, nil
	}

	if err := s.locks.TryLock(connectionID); err != nil {
		return nil, err
	}
	defer s.locks.Unlock(connectionID)

	started := time.Now()
	result := &SyncResult{}

	switch event.EventType {
	case "delete":
		conn = s.webhookDelete(ctx, conn, em, event, result)
	default:
		conn, err = s.inboundByID(ctx, conn, event.EntityName, event.RecordID, event.Record, result)
		if err != nil {
			return nil, err
		}
	}

	return s.finish(ctx, conn, result, started, false), nil
}

// webhookDelete removes the platform counterpart and the correlation row
// for a vendor-side delete. An unknown record is a skip, not an error.
func (s *SyncServiceImpl) webhookDelete(ctx context.Context, conn *connection.Connection, em *mapping.EntityMapping, event *providers.CrmWebhookEvent, result *SyncResult) *connection.Connection {
	started := time.Now()
	log := &SyncLog{
		ConnectionID:       conn.ID,
		EntityMappingID:    em.ID,
		PlatformEntityType: em.PlatformEntityType,
		CrmEntityName:      em.CrmEntityName,
		CrmID:              event.RecordID,
		Direction:          common_models.DirectionInbound,
		Action:             ActionDelete,
	}
	result.Stats.ProcessedCount++
	result.Stats.InboundCount++

	row, err := s.Correlations.FindByCrm(ctx, conn.ID, em.CrmEntityName, event.RecordID)
	if errors.Is(err, mongo.ErrNoDocuments) {
		result.Stats.SkippedCount++
		log.Action = ActionSkip
		log.Status = StatusSkipped
		s.finishLog(ctx, log, started)
		return conn
	}
	if err == nil {
		err = s.Entities.Delete(ctx, em.PlatformEntityType, row.PlatformID)
	}
	if err == nil {
		log.PlatformID = row.PlatformID.Hex()
		err = s.Correlations.Delete(ctx, row.ID)
	}
	if err != nil {
		result.Stats.FailedCount++
		result.addError(fmt.Errorf("%s/%s: %w", em.CrmEntityName, event.RecordID, err))
		log.Status = StatusFailed
		log.ErrorDetail = err.Error()
		s.finishLog(ctx, log, started)
		return conn
	}

	result.Stats.SuccessCount++
	result.Stats.DeletedCount++
	log.Status = StatusSuccess
	s.finishLog(ctx, log, started)
	return conn
}

// finish stamps the aggregate result, publishes it to any live
// subscribers, and for full sweeps records the outcome on the connection.
// Only sweeps advance last_sync_at: a single-record push or a webhook must
// not move the incremental cursor past unfetched CRM changes. Success
// holds while the record failure ratio stays under the configured
// threshold.
func (s *SyncServiceImpl) finish(ctx context.Context, conn *connection.Connection, result *SyncResult, started time.Time, sweep bool) *SyncResult {
	result.Duration = time.Since(started)

	if ctx.Err() != nil {
		result.Status = StatusCanceled
		result.Success = false
		result.Message = "sync canceled, partial counts reported"
	} else {
		ratio := 0.0
		if result.Stats.ProcessedCount > 0 {
			ratio = float64(result.Stats.FailedCount) / float64(result.Stats.ProcessedCount)
		}
		result.Success = ratio < s.Config.FailureThreshold || result.Stats.FailedCount == 0
		if result.Success {
			result.Status = StatusSuccess
			result.Message = fmt.Sprintf("processed %d records: %d synced, %d skipped, %d failed",
				result.Stats.ProcessedCount, result.Stats.SuccessCount, result.Stats.SkippedCount, result.Stats.FailedCount)
		} else {
			result.Status = StatusFailed
			result.Message = fmt.Sprintf("failure ratio %.2f exceeded threshold: %d of %d records failed",
				ratio, result.Stats.FailedCount, result.Stats.ProcessedCount)
		}
	}

	if sweep {
		recordCtx := context.WithoutCancel(ctx)
		if result.Status == StatusSuccess {
			s.Connections.RecordSyncResult(recordCtx, conn.ID.Hex(), nil)
		} else {
			s.Connections.RecordSyncResult(recordCtx, conn.ID.Hex(), errors.New(result.Message))
		}
	}

	if s.sink != nil {
		s.sink.PublishResult(conn.ID.Hex(), result)
	}

	s.Logger.Info("sync finished",
		zap.String("connectionId", conn.ID.Hex()),
		zap.String("status", result.Status),
		zap.Int("processed", result.Stats.ProcessedCount),
		zap.Int("failed", result.Stats.FailedCount),
		zap.Duration("duration", result.Duration))
	return result
}
