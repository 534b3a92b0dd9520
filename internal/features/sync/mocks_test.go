package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/correlation"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// fakeProvider is an in-memory CRM vendor. Records live per entity name,
// keyed by id; Create assigns sequential ids.
type fakeProvider struct {
	mu      stdsync.Mutex
	records map[string]map[string]*providers.CrmRecord
	nextID  int

	createCalls int
	updateCalls int
	failNext    error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{records: make(map[string]map[string]*providers.CrmRecord)}
}

func (p *fakeProvider) Type() providers.ProviderType { return providers.ProviderDynamics365 }

func (p *fakeProvider) ValidateConnection(ctx context.Context, creds providers.Credentials) error {
	return nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, creds providers.Credentials) (*providers.TokenSet, error) {
	return &providers.TokenSet{AccessToken: "refreshed", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) AuthorizationURL(state, redirectURI string) string { return "" }

func (p *fakeProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*providers.TokenSet, error) {
	return &providers.TokenSet{AccessToken: "exchanged"}, nil
}

func (p *fakeProvider) ListEntities(ctx context.Context, creds providers.Credentials) ([]providers.EntityInfo, error) {
	return nil, nil
}

func (p *fakeProvider) ListFields(ctx context.Context, creds providers.Credentials, entity string) ([]providers.FieldInfo, error) {
	return nil, nil
}

func (p *fakeProvider) GetRecord(ctx context.Context, creds providers.Credentials, entity, id string) (*providers.CrmRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[entity][id]
	if !ok {
		return nil, providers.ErrNotFound
	}
	return rec, nil
}

func (p *fakeProvider) ListRecords(ctx context.Context, creds providers.Credentials, entity string, opts providers.ListOptions) ([]*providers.CrmRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*providers.CrmRecord
	for _, rec := range p.records[entity] {
		out = append(out, rec)
	}
	return out, nil
}

func (p *fakeProvider) CreateRecord(ctx context.Context, creds providers.Credentials, entity string, rec *providers.CrmRecord) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return "", err
	}
	p.createCalls++
	p.nextID++
	id := fmt.Sprintf("crm-%d", p.nextID)
	if p.records[entity] == nil {
		p.records[entity] = make(map[string]*providers.CrmRecord)
	}
	stored := providers.NewCrmRecord()
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		stored.Set(k, v)
	}
	p.records[entity][id] = stored
	return id, nil
}

func (p *fakeProvider) UpdateRecord(ctx context.Context, creds providers.Credentials, entity, id string, rec *providers.CrmRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}
	p.updateCalls++
	stored, ok := p.records[entity][id]
	if !ok {
		return providers.ErrNotFound
	}
	for _, k := range rec.Keys() {
		v, _ := rec.Get(k)
		stored.Set(k, v)
	}
	return nil
}

func (p *fakeProvider) DeleteRecord(ctx context.Context, creds providers.Credentials, entity, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records[entity], id)
	return nil
}

func (p *fakeProvider) RegisterWebhook(ctx context.Context, creds providers.Credentials, callbackURL, secret string) (string, error) {
	return "hook-1", nil
}

func (p *fakeProvider) ParseWebhook(body []byte) (*providers.CrmWebhookEvent, error) {
	return nil, fmt.Errorf("not implemented")
}

func (p *fakeProvider) ValidateWebhookSignature(body []byte, signature, secret string) bool {
	return signature == "valid"
}

func (p *fakeProvider) record(entity, id string) *providers.CrmRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[entity][id]
}

// fakeConnectionService serves one connection and counts refreshes and
// recorded sync outcomes.
type fakeConnectionService struct {
	conn        *connection.Connection
	refreshs    int
	syncResults int
}

func (s *fakeConnectionService) CreateConnection(ctx context.Context, conn *connection.Connection) error {
	return nil
}

func (s *fakeConnectionService) GetConnection(ctx context.Context, id string) (*connection.Connection, error) {
	if s.conn == nil || s.conn.ID.Hex() != id {
		return nil, mongo.ErrNoDocuments
	}
	copied := *s.conn
	return &copied, nil
}

func (s *fakeConnectionService) ListConnections(ctx context.Context) ([]connection.Connection, error) {
	if s.conn == nil {
		return nil, nil
	}
	return []connection.Connection{*s.conn}, nil
}

func (s *fakeConnectionService) ListEnabled(ctx context.Context) ([]connection.Connection, error) {
	return s.ListConnections(ctx)
}

func (s *fakeConnectionService) UpdateConnection(ctx context.Context, id string, updates map[string]interface{}) error {
	return nil
}

func (s *fakeConnectionService) DeleteConnection(ctx context.Context, id string) error { return nil }

func (s *fakeConnectionService) ValidateConnection(ctx context.Context, id string) error { return nil }

func (s *fakeConnectionService) AuthorizationURL(providerType providers.ProviderType, state, redirectURI string) (string, error) {
	return "", nil
}

func (s *fakeConnectionService) ExchangeCode(ctx context.Context, id, code, redirectURI string) error {
	return nil
}

func (s *fakeConnectionService) EnsureValidToken(ctx context.Context, conn *connection.Connection) (*connection.Connection, error) {
	return conn, nil
}

func (s *fakeConnectionService) ForceRefresh(ctx context.Context, conn *connection.Connection) (*connection.Connection, error) {
	s.refreshs++
	refreshed := *conn
	refreshed.AccessToken = "refreshed"
	return &refreshed, nil
}

func (s *fakeConnectionService) RecordSyncResult(ctx context.Context, id string, syncErr error) {
	s.syncResults++
}

// fakeMappingRepo serves a static mapping set.
type fakeMappingRepo struct {
	mappings []mapping.EntityMapping
}

func (r *fakeMappingRepo) Create(ctx context.Context, m *mapping.EntityMapping) error { return nil }

func (r *fakeMappingRepo) Get(ctx context.Context, id string) (*mapping.EntityMapping, error) {
	for i := range r.mappings {
		if r.mappings[i].ID.Hex() == id {
			return &r.mappings[i], nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeMappingRepo) List(ctx context.Context, connectionID primitive.ObjectID) ([]mapping.EntityMapping, error) {
	return r.mappings, nil
}

func (r *fakeMappingRepo) ListEnabled(ctx context.Context, connectionID primitive.ObjectID) ([]mapping.EntityMapping, error) {
	var out []mapping.EntityMapping
	for _, m := range r.mappings {
		if m.IsEnabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMappingRepo) FindByCrmEntity(ctx context.Context, connectionID primitive.ObjectID, crmEntityName string) (*mapping.EntityMapping, error) {
	for i := range r.mappings {
		if r.mappings[i].CrmEntityName == crmEntityName {
			return &r.mappings[i], nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeMappingRepo) FindByPlatformType(ctx context.Context, connectionID primitive.ObjectID, entityType string) ([]mapping.EntityMapping, error) {
	var out []mapping.EntityMapping
	for _, m := range r.mappings {
		if string(m.PlatformEntityType) == entityType && m.IsEnabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMappingRepo) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	return nil
}

func (r *fakeMappingRepo) Delete(ctx context.Context, id string) error { return nil }

func (r *fakeMappingRepo) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	return nil
}

func (r *fakeMappingRepo) EnsureIndexes(ctx context.Context) error { return nil }

// fakeCorrelationRepo enforces both uniqueness constraints in memory.
type fakeCorrelationRepo struct {
	mu   stdsync.Mutex
	rows []correlation.ExternalID
}

func (r *fakeCorrelationRepo) FindByPlatform(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType, platformID primitive.ObjectID) (*correlation.ExternalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		row := &r.rows[i]
		if row.ConnectionID == connectionID && row.PlatformEntityType == entityType && row.PlatformID == platformID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeCorrelationRepo) FindByCrm(ctx context.Context, connectionID primitive.ObjectID, crmEntityName, crmID string) (*correlation.ExternalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		row := &r.rows[i]
		if row.ConnectionID == connectionID && row.CrmEntityName == crmEntityName && row.CrmID == crmID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeCorrelationRepo) Upsert(ctx context.Context, row *correlation.ExternalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		existing := &r.rows[i]
		samePlatform := existing.ConnectionID == row.ConnectionID &&
			existing.PlatformEntityType == row.PlatformEntityType &&
			existing.PlatformID == row.PlatformID
		sameCrm := existing.ConnectionID == row.ConnectionID &&
			existing.CrmEntityName == row.CrmEntityName &&
			existing.CrmID == row.CrmID
		if samePlatform {
			if sameCrm || existing.CrmID == "" {
				existing.CrmEntityName = row.CrmEntityName
				existing.CrmID = row.CrmID
				existing.LastSyncedAt = row.LastSyncedAt
				existing.LastSyncDirection = row.LastSyncDirection
				existing.LastSyncHash = row.LastSyncHash
				return nil
			}
			// Same platform row pointing at a different CRM record.
			existing.CrmID = row.CrmID
			existing.LastSyncedAt = row.LastSyncedAt
			existing.LastSyncDirection = row.LastSyncDirection
			existing.LastSyncHash = row.LastSyncHash
			return nil
		}
		if sameCrm {
			return correlation.ErrConflict
		}
	}
	row.ID = primitive.NewObjectID()
	r.rows = append(r.rows, *row)
	return nil
}

func (r *fakeCorrelationRepo) List(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) ([]correlation.ExternalID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []correlation.ExternalID
	for _, row := range r.rows {
		if row.ConnectionID == connectionID && (entityType == "" || row.PlatformEntityType == entityType) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeCorrelationRepo) CountByType(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) (int64, error) {
	rows, _ := r.List(ctx, connectionID, entityType)
	return int64(len(rows)), nil
}

func (r *fakeCorrelationRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *fakeCorrelationRepo) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	return nil
}

func (r *fakeCorrelationRepo) EnsureIndexes(ctx context.Context) error { return nil }

// fakeEntityRepo stores platform records in memory.
type fakeEntityRepo struct {
	mu      stdsync.Mutex
	records map[common_models.EntityType]map[primitive.ObjectID]*common_models.PlatformRecord
}

func newFakeEntityRepo() *fakeEntityRepo {
	return &fakeEntityRepo{records: make(map[common_models.EntityType]map[primitive.ObjectID]*common_models.PlatformRecord)}
}

func (r *fakeEntityRepo) put(rec *common_models.PlatformRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if r.records[rec.EntityType] == nil {
		r.records[rec.EntityType] = make(map[primitive.ObjectID]*common_models.PlatformRecord)
	}
	r.records[rec.EntityType][rec.ID] = rec
}

func (r *fakeEntityRepo) Get(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) (*common_models.PlatformRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[entityType][id]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	return rec, nil
}

func (r *fakeEntityRepo) List(ctx context.Context, entityType common_models.EntityType, page, pageSize int) ([]common_models.PlatformRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []common_models.PlatformRecord
	for _, rec := range r.records[entityType] {
		out = append(out, *rec)
	}
	return out, nil
}

func (r *fakeEntityRepo) ListModifiedSince(ctx context.Context, entityType common_models.EntityType, since time.Time) ([]common_models.PlatformRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []common_models.PlatformRecord
	for _, rec := range r.records[entityType] {
		if rec.UpdatedAt.After(since) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeEntityRepo) Create(ctx context.Context, record *common_models.PlatformRecord) error {
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	r.put(record)
	return nil
}

func (r *fakeEntityRepo) Update(ctx context.Context, record *common_models.PlatformRecord) error {
	record.UpdatedAt = time.Now()
	r.put(record)
	return nil
}

func (r *fakeEntityRepo) UpdateFields(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID, fields map[string]any) error {
	rec, err := r.Get(ctx, entityType, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Data == nil {
		rec.Data = make(map[string]any)
	}
	for k, v := range fields {
		rec.Data[k] = v
	}
	rec.UpdatedAt = time.Now()
	return nil
}

func (r *fakeEntityRepo) Delete(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records[entityType], id)
	return nil
}

func (r *fakeEntityRepo) Count(ctx context.Context, entityType common_models.EntityType) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.records[entityType])), nil
}

// fakeLogRepo collects appended audit rows.
type fakeLogRepo struct {
	mu   stdsync.Mutex
	logs []SyncLog
}

func (r *fakeLogRepo) Append(ctx context.Context, log *SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log.ID = primitive.NewObjectID()
	r.logs = append(r.logs, *log)
	return nil
}

func (r *fakeLogRepo) List(ctx context.Context, filter SyncLogFilter) ([]SyncLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SyncLog(nil), r.logs...), nil
}

func (r *fakeLogRepo) ListOlderThan(ctx context.Context, cutoff time.Time) ([]SyncLog, error) {
	return nil, nil
}

func (r *fakeLogRepo) Stats(ctx context.Context, connectionID primitive.ObjectID) (*SyncLogStats, error) {
	return &SyncLogStats{}, nil
}

func (r *fakeLogRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeLogRepo) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	return nil
}

func (r *fakeLogRepo) EnsureIndexes(ctx context.Context) error { return nil }

func (r *fakeLogRepo) byAction(action string) []SyncLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncLog
	for _, log := range r.logs {
		if log.Action == action {
			out = append(out, log)
		}
	}
	return out
}
