package sync

import (
	"time"

	common_models "crm-sync/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sync actions and outcomes recorded in the audit trail.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionSkip   = "skip"

	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusCanceled = "canceled"
)

// SyncStats is the counter breakdown inside a SyncResult.
type SyncStats struct {
	ProcessedCount int `json:"processed_count"`
	SuccessCount   int `json:"success_count"`
	FailedCount    int `json:"failed_count"`
	ConflictCount  int `json:"conflict_count"`
	SkippedCount   int `json:"skipped_count"`

	InboundCount  int `json:"inbound_count"`
	OutboundCount int `json:"outbound_count"`

	CreatedCount int `json:"created_count"`
	UpdatedCount int `json:"updated_count"`
	DeletedCount int `json:"deleted_count"`
}

// Add folds another stats block into this one.
func (s *SyncStats) Add(o SyncStats) {
	s.ProcessedCount += o.ProcessedCount
	s.SuccessCount += o.SuccessCount
	s.FailedCount += o.FailedCount
	s.ConflictCount += o.ConflictCount
	s.SkippedCount += o.SkippedCount
	s.InboundCount += o.InboundCount
	s.OutboundCount += o.OutboundCount
	s.CreatedCount += o.CreatedCount
	s.UpdatedCount += o.UpdatedCount
	s.DeletedCount += o.DeletedCount
}

// SyncResult is the stable contract every sync operation returns. Partial
// failures never raise; callers inspect Success, Stats and Errors.
type SyncResult struct {
	Success  bool          `json:"success"`
	Status   string        `json:"status"` // success, failed, canceled
	Message  string        `json:"message"`
	Stats    SyncStats     `json:"stats"`
	Errors   []string      `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r *SyncResult) addError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

// SyncLog is one append-only audit row per attempted sync action. Rows are
// never mutated after the insert.
type SyncLog struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConnectionID    primitive.ObjectID `json:"connection_id" bson:"connection_id"`
	EntityMappingID primitive.ObjectID `json:"entity_mapping_id,omitempty" bson:"entity_mapping_id,omitempty"`

	PlatformEntityType common_models.EntityType    `json:"platform_entity_type" bson:"platform_entity_type"`
	PlatformID         string                      `json:"platform_id,omitempty" bson:"platform_id,omitempty"`
	CrmEntityName      string                      `json:"crm_entity_name" bson:"crm_entity_name"`
	CrmID              string                      `json:"crm_id,omitempty" bson:"crm_id,omitempty"`
	Direction          common_models.SyncDirection `json:"direction" bson:"direction"`

	Action        string         `json:"action" bson:"action"`
	Status        string         `json:"status" bson:"status"`
	ErrorDetail   string         `json:"error_detail,omitempty" bson:"error_detail,omitempty"`
	ChangedFields map[string]any `json:"changed_fields,omitempty" bson:"changed_fields,omitempty"`

	DurationMs int64     `json:"duration_ms" bson:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// SyncLogStats is the aggregate view the logs API exposes.
type SyncLogStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
	ByAction map[string]int64 `json:"by_action"`
}

// Diagnostics is the read-side misconfiguration report for one connection.
type Diagnostics struct {
	ConnectionID string `json:"connection_id"`

	TotalUsers     int64 `json:"total_users"`
	TotalCompanies int64 `json:"total_companies"`
	TotalLocations int64 `json:"total_locations"`

	CorrelatedUsers     int64 `json:"correlated_users"`
	CorrelatedCompanies int64 `json:"correlated_companies"`
	CorrelatedLocations int64 `json:"correlated_locations"`

	CrmContactsWithCompany int64    `json:"crm_contacts_with_company"`
	SampleMappings         []string `json:"sample_mappings"`
	Recommendation         string   `json:"recommendation,omitempty"`
}
