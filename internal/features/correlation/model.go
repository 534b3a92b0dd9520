package correlation

import (
	"errors"
	"time"

	common_models "crm-sync/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrConflict reports a correlation upsert that violated one of the two
// uniqueness constraints. It aborts the affected record's sync only.
var ErrConflict = errors.New("correlation uniqueness conflict")

// ExternalID is the bidirectional join row between one platform entity
// instance and its CRM record. Both lookup directions must resolve to
// exactly one counterpart.
type ExternalID struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConnectionID primitive.ObjectID `json:"connection_id" bson:"connection_id"`

	PlatformEntityType common_models.EntityType `json:"platform_entity_type" bson:"platform_entity_type"`
	PlatformID         primitive.ObjectID       `json:"platform_id" bson:"platform_id"`
	CrmEntityName      string                   `json:"crm_entity_name" bson:"crm_entity_name"`
	CrmID              string                   `json:"crm_id" bson:"crm_id"`

	LastSyncedAt      time.Time                   `json:"last_synced_at" bson:"last_synced_at"`
	LastSyncDirection common_models.SyncDirection `json:"last_sync_direction" bson:"last_sync_direction"`
	LastSyncHash      string                      `json:"last_sync_hash" bson:"last_sync_hash"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
