package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/config"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/mapping"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type testEnv struct {
	svc          *SyncServiceImpl
	provider     *fakeProvider
	conn         *connection.Connection
	connections  *fakeConnectionService
	mappings     *fakeMappingRepo
	correlations *fakeCorrelationRepo
	entities     *fakeEntityRepo
	logs         *fakeLogRepo
}

func newTestEnv(t *testing.T, mappings []mapping.EntityMapping) *testEnv {
	t.Helper()

	conn := &connection.Connection{
		ID:               primitive.NewObjectID(),
		Name:             "test dynamics",
		ProviderType:     providers.ProviderDynamics365,
		AccessToken:      "token",
		TokenExpiresAt:   time.Now().Add(time.Hour),
		DefaultDirection: common_models.DirectionBidirectional,
		IsEnabled:        true,
	}
	for i := range mappings {
		mappings[i].ConnectionID = conn.ID
	}

	env := &testEnv{
		provider:     newFakeProvider(),
		conn:         conn,
		connections:  &fakeConnectionService{conn: conn},
		mappings:     &fakeMappingRepo{mappings: mappings},
		correlations: &fakeCorrelationRepo{},
		entities:     newFakeEntityRepo(),
		logs:         &fakeLogRepo{},
	}

	cfg := &config.Config{
		SyncPageSize:     100,
		FailureThreshold: 0.5,
		RetryMaxAttempts: 1,
	}
	svc := NewSyncService(cfg, zap.NewNop(), providers.NewRegistryOf(env.provider),
		env.connections, env.mappings, env.correlations, env.entities, env.logs)
	env.svc = svc.(*SyncServiceImpl)
	return env
}

func contactMapping(withCompanyLookup bool) mapping.EntityMapping {
	em := mapping.EntityMapping{
		ID:                 primitive.NewObjectID(),
		CrmEntityName:      "contact",
		PlatformEntityType: common_models.EntityTypeUser,
		PrimaryKeyField:    "contactid",
		ModifiedDateField:  "modifiedon",
		IsEnabled:          true,
		FieldMappings: []mapping.FieldMapping{
			{PlatformField: "first_name", CrmField: "firstname", IsRequired: true},
			{PlatformField: "email", CrmField: "emailaddress1"},
		},
	}
	if withCompanyLookup {
		em.RelationshipMappings = []mapping.RelationshipMapping{{
			PlatformField:       "company_id",
			RelatedPlatformType: common_models.EntityTypeCompany,
			CrmLookupField:      "parentcustomerid",
			CrmRelatedEntity:    "account",
			Direction:           common_models.DirectionOutbound,
			AutoCreateRelated:   true,
		}}
	}
	return em
}

func accountMapping() mapping.EntityMapping {
	return mapping.EntityMapping{
		ID:                 primitive.NewObjectID(),
		CrmEntityName:      "account",
		PlatformEntityType: common_models.EntityTypeCompany,
		PrimaryKeyField:    "accountid",
		ModifiedDateField:  "modifiedon",
		IsEnabled:          true,
		FieldMappings: []mapping.FieldMapping{
			{PlatformField: "name", CrmField: "name", IsRequired: true},
		},
	}
}

func TestSyncOutboundCreatesContactWithCompanyLookup(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(true), accountMapping()})

	company := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeCompany,
		Data:       map[string]any{"name": "Company 42"},
	}
	env.entities.put(company)
	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data: map[string]any{
			"first_name": "Ana",
			"email":      "ana@example.com",
			"company_id": company.ID,
		},
	}
	env.entities.put(user)

	result, err := env.svc.SyncOutbound(context.Background(), env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex())
	if err != nil {
		t.Fatalf("SyncOutbound: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got status %q errors %v", result.Status, result.Errors)
	}

	// The related account is auto-created ahead of the contact.
	if env.provider.createCalls != 2 {
		t.Fatalf("expected 2 CRM creates (account then contact), got %d", env.provider.createCalls)
	}

	userRow, err := env.correlations.FindByPlatform(context.Background(), env.conn.ID, common_models.EntityTypeUser, user.ID)
	if err != nil {
		t.Fatalf("user correlation missing: %v", err)
	}
	companyRow, err := env.correlations.FindByPlatform(context.Background(), env.conn.ID, common_models.EntityTypeCompany, company.ID)
	if err != nil {
		t.Fatalf("company correlation missing: %v", err)
	}

	contact := env.provider.record("contact", userRow.CrmID)
	if contact == nil {
		t.Fatalf("no CRM contact stored under %s", userRow.CrmID)
	}
	if v, _ := contact.Get("firstname"); v.Text() != "Ana" {
		t.Errorf("firstname = %q, want Ana", v.Text())
	}
	if v, _ := contact.Get("parentcustomerid"); v.Text() != companyRow.CrmID {
		t.Errorf("parentcustomerid = %q, want %q", v.Text(), companyRow.CrmID)
	}

	creates := env.logs.byAction(ActionCreate)
	if len(creates) != 1 {
		t.Fatalf("expected 1 create log for the contact, got %d", len(creates))
	}
	if creates[0].Status != StatusSuccess || creates[0].CrmEntityName != "contact" {
		t.Errorf("unexpected create log: %+v", creates[0])
	}
}

func TestSyncOutboundUnchangedRecordSkips(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})

	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"first_name": "Ana"},
	}
	env.entities.put(user)

	ctx := context.Background()
	if _, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex()); err != nil {
		t.Fatalf("first SyncOutbound: %v", err)
	}
	result, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex())
	if err != nil {
		t.Fatalf("second SyncOutbound: %v", err)
	}

	if result.Stats.SkippedCount != 1 {
		t.Errorf("SkippedCount = %d, want 1", result.Stats.SkippedCount)
	}
	if env.provider.createCalls != 1 || env.provider.updateCalls != 0 {
		t.Errorf("CRM calls = %d creates %d updates, want 1/0", env.provider.createCalls, env.provider.updateCalls)
	}

	// A changed field makes the hash diverge and forces an update.
	user.Data["first_name"] = "Ana Maria"
	result, err = env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex())
	if err != nil {
		t.Fatalf("third SyncOutbound: %v", err)
	}
	if result.Stats.UpdatedCount != 1 {
		t.Errorf("UpdatedCount = %d, want 1", result.Stats.UpdatedCount)
	}
	if env.provider.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1", env.provider.updateCalls)
	}
}

func TestProcessWebhookDuplicateDeliverySkips(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})

	modified := time.Now().Add(-time.Minute)
	event := func() *providers.CrmWebhookEvent {
		rec := providers.NewCrmRecord()
		rec.Set("contactid", providers.String("crm-77"))
		rec.Set("firstname", providers.String("Ana"))
		rec.Set("emailaddress1", providers.String("ana@example.com"))
		rec.Set("modifiedon", providers.Timestamp(modified))
		return &providers.CrmWebhookEvent{
			ID:         "evt-1",
			EventType:  "update",
			EntityName: "contact",
			RecordID:   "crm-77",
			Record:     rec,
			OccurredAt: modified,
		}
	}

	ctx := context.Background()
	first, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), event())
	if err != nil {
		t.Fatalf("first ProcessWebhook: %v", err)
	}
	if first.Stats.CreatedCount != 1 {
		t.Fatalf("CreatedCount = %d, want 1", first.Stats.CreatedCount)
	}

	second, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), event())
	if err != nil {
		t.Fatalf("second ProcessWebhook: %v", err)
	}
	if second.Stats.SkippedCount != 1 || second.Stats.CreatedCount != 0 {
		t.Errorf("duplicate delivery: skipped=%d created=%d, want 1/0", second.Stats.SkippedCount, second.Stats.CreatedCount)
	}

	count, _ := env.entities.Count(ctx, common_models.EntityTypeUser)
	if count != 1 {
		t.Errorf("platform user count = %d, want 1", count)
	}

	users, _ := env.entities.List(ctx, common_models.EntityTypeUser, 0, 0)
	if users[0].Data["first_name"] != "Ana" || users[0].Data["email"] != "ana@example.com" {
		t.Errorf("unexpected platform data: %v", users[0].Data)
	}
}

func TestProcessWebhookOutboundOnlyMappingAcknowledged(t *testing.T) {
	em := contactMapping(false)
	em.Direction = common_models.DirectionOutbound
	env := newTestEnv(t, []mapping.EntityMapping{em})

	event := &providers.CrmWebhookEvent{
		EventType:  "update",
		EntityName: "contact",
		RecordID:   "crm-9",
	}
	result, err := env.svc.ProcessWebhook(context.Background(), env.conn.ID.Hex(), event)
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected acknowledged success, got %+v", result)
	}
	if !strings.Contains(result.Message, "outbound-only") {
		t.Errorf("message = %q, want outbound-only acknowledgment", result.Message)
	}

	count, _ := env.entities.Count(context.Background(), common_models.EntityTypeUser)
	if count != 0 {
		t.Errorf("platform records created for an ignored event: %d", count)
	}
	if len(env.logs.logs) != 0 {
		t.Errorf("audit rows written for an ignored event: %d", len(env.logs.logs))
	}
}

func TestProcessWebhookUnmappedEntityIgnored(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})

	result, err := env.svc.ProcessWebhook(context.Background(), env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "create",
		EntityName: "opportunity",
		RecordID:   "crm-3",
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if !result.Success || !strings.Contains(result.Message, "no mapping") {
		t.Errorf("unexpected result for unmapped entity: %+v", result)
	}
}

func TestProcessWebhookDeleteRemovesPlatformRecord(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	created, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "create",
		EntityName: "contact",
		RecordID:   "crm-5",
		Record: func() *providers.CrmRecord {
			rec := providers.NewCrmRecord()
			rec.Set("contactid", providers.String("crm-5"))
			rec.Set("firstname", providers.String("Bea"))
			rec.Set("emailaddress1", providers.String("bea@example.com"))
			return rec
		}(),
	})
	if err != nil || created.Stats.CreatedCount != 1 {
		t.Fatalf("setup create failed: %v %+v", err, created)
	}

	result, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "delete",
		EntityName: "contact",
		RecordID:   "crm-5",
	})
	if err != nil {
		t.Fatalf("delete ProcessWebhook: %v", err)
	}
	if result.Stats.DeletedCount != 1 {
		t.Errorf("DeletedCount = %d, want 1", result.Stats.DeletedCount)
	}
	count, _ := env.entities.Count(ctx, common_models.EntityTypeUser)
	if count != 0 {
		t.Errorf("platform record survived vendor delete: count %d", count)
	}
	rows, _ := env.correlations.List(ctx, env.conn.ID, common_models.EntityTypeUser)
	if len(rows) != 0 {
		t.Errorf("correlation rows survived vendor delete: %d", len(rows))
	}

	// Deleting an unknown record is a skip, not a failure.
	again, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "delete",
		EntityName: "contact",
		RecordID:   "crm-5",
	})
	if err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if again.Stats.SkippedCount != 1 || !again.Success {
		t.Errorf("repeat delete: %+v", again)
	}
}

func TestSyncAllPartialFailureIsolation(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	for _, first := range []string{"Ana", "Bea"} {
		env.entities.put(&common_models.PlatformRecord{
			EntityType: common_models.EntityTypeUser,
			Data:       map[string]any{"first_name": first},
		})
	}
	// Missing the required first_name, must fail validation.
	env.entities.put(&common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"email": "nameless@example.com"},
	})

	result, err := env.svc.SyncAll(ctx, env.conn.ID.Hex())
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	if result.Stats.CreatedCount != 2 {
		t.Errorf("CreatedCount = %d, want 2", result.Stats.CreatedCount)
	}
	if result.Stats.FailedCount != 1 {
		t.Errorf("FailedCount = %d, want 1", result.Stats.FailedCount)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want exactly one", result.Errors)
	}
	// 1 failure out of 3 stays under the 0.5 threshold.
	if !result.Success {
		t.Errorf("batch marked failed: %+v", result)
	}

	failures := env.logs.byAction(ActionCreate)
	successCount := 0
	for _, log := range failures {
		if log.Status == StatusSuccess {
			successCount++
		}
	}
	if successCount != 2 {
		t.Errorf("success create logs = %d, want 2", successCount)
	}
}

func TestSyncAllConcurrentRunRejected(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})

	id := env.conn.ID.Hex()
	if err := env.svc.locks.TryLock(id); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer env.svc.locks.Unlock(id)

	if _, err := env.svc.SyncAll(context.Background(), id); err != ErrSyncInProgress {
		t.Fatalf("err = %v, want ErrSyncInProgress", err)
	}
	if !env.svc.Busy(id) {
		t.Error("Busy = false while lock is held")
	}
}

func TestSyncOutboundTransientFailureRetried(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"first_name": "Ana"},
	}
	env.entities.put(user)
	env.provider.failNext = providers.ErrTransient

	result, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex())
	if err != nil {
		t.Fatalf("SyncOutbound: %v", err)
	}
	if !result.Success || result.Stats.CreatedCount != 1 {
		t.Fatalf("retry did not recover: %+v", result)
	}
	if env.provider.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1 successful create", env.provider.createCalls)
	}
}

func TestSyncOutboundRepointedRelationshipUpdates(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(true), accountMapping()})
	ctx := context.Background()

	companyA := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeCompany,
		Data:       map[string]any{"name": "Company A"},
	}
	env.entities.put(companyA)
	companyB := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeCompany,
		Data:       map[string]any{"name": "Company B"},
	}
	env.entities.put(companyB)
	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"first_name": "Ana", "company_id": companyA.ID},
	}
	env.entities.put(user)

	if _, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex()); err != nil {
		t.Fatalf("first SyncOutbound: %v", err)
	}

	// Re-pointing the relationship alone must register as a change.
	user.Data["company_id"] = companyB.ID
	result, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex())
	if err != nil {
		t.Fatalf("second SyncOutbound: %v", err)
	}
	if result.Stats.SkippedCount != 0 || result.Stats.UpdatedCount != 1 {
		t.Fatalf("repoint: skipped=%d updated=%d, want 0/1", result.Stats.SkippedCount, result.Stats.UpdatedCount)
	}

	userRow, err := env.correlations.FindByPlatform(ctx, env.conn.ID, common_models.EntityTypeUser, user.ID)
	if err != nil {
		t.Fatalf("user correlation missing: %v", err)
	}
	companyBRow, err := env.correlations.FindByPlatform(ctx, env.conn.ID, common_models.EntityTypeCompany, companyB.ID)
	if err != nil {
		t.Fatalf("company B correlation missing: %v", err)
	}
	contact := env.provider.record("contact", userRow.CrmID)
	if v, _ := contact.Get("parentcustomerid"); v.Text() != companyBRow.CrmID {
		t.Errorf("parentcustomerid = %q, want %q (company B)", v.Text(), companyBRow.CrmID)
	}
}

func TestSingleRecordSyncKeepsIncrementalCursor(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"first_name": "Ana"},
	}
	env.entities.put(user)

	if _, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex()); err != nil {
		t.Fatalf("SyncOutbound: %v", err)
	}
	if env.connections.syncResults != 0 {
		t.Errorf("single-record push advanced the cursor: %d RecordSyncResult calls", env.connections.syncResults)
	}

	rec := providers.NewCrmRecord()
	rec.Set("contactid", providers.String("crm-42"))
	rec.Set("firstname", providers.String("Bea"))
	rec.Set("emailaddress1", providers.String("bea@example.com"))
	if _, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "create",
		EntityName: "contact",
		RecordID:   "crm-42",
		Record:     rec,
	}); err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if env.connections.syncResults != 0 {
		t.Errorf("webhook advanced the cursor: %d RecordSyncResult calls", env.connections.syncResults)
	}

	if _, err := env.svc.SyncAll(ctx, env.conn.ID.Hex()); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if env.connections.syncResults != 1 {
		t.Errorf("full sweep recorded %d outcomes, want 1", env.connections.syncResults)
	}
}

func TestProcessWebhookSinglePropertyRefetchesFullRecord(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	full := providers.NewCrmRecord()
	full.Set("contactid", providers.String("crm-20"))
	full.Set("firstname", providers.String("Ana"))
	full.Set("emailaddress1", providers.String("ana@example.com"))
	env.provider.records["contact"] = map[string]*providers.CrmRecord{"crm-20": full}

	// A property-change event carries exactly one property. It must not be
	// applied as-is because the required firstname would appear empty on
	// other single-property events; the full record is fetched instead.
	partial := providers.NewCrmRecord()
	partial.Set("emailaddress1", providers.String("ana@example.com"))

	result, err := env.svc.ProcessWebhook(ctx, env.conn.ID.Hex(), &providers.CrmWebhookEvent{
		EventType:  "update",
		EntityName: "contact",
		RecordID:   "crm-20",
		Record:     partial,
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if result.Stats.FailedCount != 0 || result.Stats.CreatedCount != 1 {
		t.Fatalf("single-property event: failed=%d created=%d, want 0/1: %v", result.Stats.FailedCount, result.Stats.CreatedCount, result.Errors)
	}

	users, _ := env.entities.List(ctx, common_models.EntityTypeUser, 0, 0)
	if len(users) != 1 {
		t.Fatalf("platform user count = %d, want 1", len(users))
	}
	if users[0].Data["first_name"] != "Ana" || users[0].Data["email"] != "ana@example.com" {
		t.Errorf("refetched record not applied: %v", users[0].Data)
	}
}

func TestOutboundThenInboundResolvesToSameRecord(t *testing.T) {
	env := newTestEnv(t, []mapping.EntityMapping{contactMapping(false)})
	ctx := context.Background()

	user := &common_models.PlatformRecord{
		EntityType: common_models.EntityTypeUser,
		Data:       map[string]any{"first_name": "Ana", "email": "ana@example.com"},
	}
	env.entities.put(user)

	if _, err := env.svc.SyncOutbound(ctx, env.conn.ID.Hex(), common_models.EntityTypeUser, user.ID.Hex()); err != nil {
		t.Fatalf("SyncOutbound: %v", err)
	}
	row, err := env.correlations.FindByPlatform(ctx, env.conn.ID, common_models.EntityTypeUser, user.ID)
	if err != nil {
		t.Fatalf("correlation missing after outbound create: %v", err)
	}

	// Pulling the freshly created CRM counterpart must land on the same
	// platform record, never a duplicate.
	result, err := env.svc.SyncInbound(ctx, env.conn.ID.Hex(), "contact", row.CrmID)
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if result.Stats.CreatedCount != 0 {
		t.Errorf("inbound pass created %d records, want 0", result.Stats.CreatedCount)
	}

	count, _ := env.entities.Count(ctx, common_models.EntityTypeUser)
	if count != 1 {
		t.Errorf("platform user count = %d, want 1", count)
	}
	rows, _ := env.correlations.List(ctx, env.conn.ID, common_models.EntityTypeUser)
	if len(rows) != 1 {
		t.Errorf("correlation rows = %d, want 1", len(rows))
	}
}
