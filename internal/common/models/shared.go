package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ContextKey string

const (
	TenantIDKey ContextKey = "tenant_id"
)

// SyncDirection controls which way records are allowed to flow for a
// connection, entity mapping, field mapping or relationship mapping.
type SyncDirection string

const (
	DirectionInbound       SyncDirection = "inbound"  // CRM -> platform
	DirectionOutbound      SyncDirection = "outbound" // platform -> CRM
	DirectionBidirectional SyncDirection = "bidirectional"
)

func (d SyncDirection) AllowsInbound() bool {
	return d == DirectionInbound || d == DirectionBidirectional
}

func (d SyncDirection) AllowsOutbound() bool {
	return d == DirectionOutbound || d == DirectionBidirectional
}

func (d SyncDirection) Valid() bool {
	switch d {
	case DirectionInbound, DirectionOutbound, DirectionBidirectional:
		return true
	}
	return false
}

// EntityType identifies a platform-side entity kind that can be mapped to a
// CRM entity.
type EntityType string

const (
	EntityTypeUser     EntityType = "user"
	EntityTypeCompany  EntityType = "company"
	EntityTypeLocation EntityType = "location"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeUser, EntityTypeCompany, EntityTypeLocation:
		return true
	}
	return false
}

// Collection returns the Mongo collection holding records of this type.
func (t EntityType) Collection() string {
	switch t {
	case EntityTypeUser:
		return "users"
	case EntityTypeCompany:
		return "companies"
	case EntityTypeLocation:
		return "locations"
	}
	return string(t)
}

// PlatformRecord is the platform-side representation of a syncable entity.
// Data is schema-less so field mappings can address fields by name.
type PlatformRecord struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	EntityType EntityType         `json:"entity_type" bson:"entity_type"`
	Data       map[string]any     `json:"data" bson:"data"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// Field returns a named value out of Data, nil when absent.
func (r *PlatformRecord) Field(name string) any {
	if r.Data == nil {
		return nil
	}
	return r.Data[name]
}

// Log is the document shape used by the async logger DB writer.
type Log struct {
	Message      string    `bson:"message" json:"message"`
	ConnectionID string    `bson:"connection_id,omitempty" json:"connection_id,omitempty"`
	Entity       string    `bson:"entity,omitempty" json:"entity,omitempty"`
	LogLevelID   int       `bson:"log_level_id" json:"log_level_id"`
	Caller       string    `bson:"caller,omitempty" json:"caller,omitempty"`
	CreatedOnUtc time.Time `bson:"created_on_utc" json:"created_on_utc"`
}
