package mapping

import (
	"time"

	common_models "crm-sync/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntityMapping binds one CRM entity type to one platform entity type for a
// connection. Field and relationship mappings are embedded the way the
// platform embeds per-module sync config in its settings documents.
type EntityMapping struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConnectionID primitive.ObjectID `json:"connection_id" bson:"connection_id"`

	CrmEntityName      string                      `json:"crm_entity_name" bson:"crm_entity_name"`
	PlatformEntityType common_models.EntityType    `json:"platform_entity_type" bson:"platform_entity_type"`
	Direction          common_models.SyncDirection `json:"direction,omitempty" bson:"direction,omitempty"` // override, empty = connection default

	PrimaryKeyField   string `json:"primary_key_field" bson:"primary_key_field"`
	ModifiedDateField string `json:"modified_date_field" bson:"modified_date_field"`
	FilterExpression  string `json:"filter_expression,omitempty" bson:"filter_expression,omitempty"`
	IsEnabled         bool   `json:"is_enabled" bson:"is_enabled"`
	DisplayOrder      int    `json:"display_order" bson:"display_order"`

	FieldMappings        []FieldMapping        `json:"field_mappings" bson:"field_mappings"`
	RelationshipMappings []RelationshipMapping `json:"relationship_mappings,omitempty" bson:"relationship_mappings,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// FieldMapping maps one platform field to one CRM field.
type FieldMapping struct {
	PlatformField  string                      `json:"platform_field" bson:"platform_field"`
	CrmField       string                      `json:"crm_field" bson:"crm_field"`
	Direction      common_models.SyncDirection `json:"direction,omitempty" bson:"direction,omitempty"` // override, empty = entity mapping
	IsRequired     bool                        `json:"is_required" bson:"is_required"`
	Transformation Transformation              `json:"transformation" bson:"transformation"`
	DisplayOrder   int                         `json:"display_order" bson:"display_order"`
}

// RelationshipMapping maps a platform foreign-key field to a CRM lookup.
type RelationshipMapping struct {
	PlatformField       string                      `json:"platform_field" bson:"platform_field"`
	RelatedPlatformType common_models.EntityType    `json:"related_platform_type" bson:"related_platform_type"`
	CrmLookupField      string                      `json:"crm_lookup_field" bson:"crm_lookup_field"`
	CrmRelatedEntity    string                      `json:"crm_related_entity" bson:"crm_related_entity"`
	Direction           common_models.SyncDirection `json:"direction,omitempty" bson:"direction,omitempty"`
	AutoCreateRelated   bool                        `json:"auto_create_related" bson:"auto_create_related"`
	SyncNulls           bool                        `json:"sync_nulls" bson:"sync_nulls"`
}
