package connection

import (
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Connection is the credential and policy link to one external CRM tenant.
// There is exactly one active credential set per connection; token refresh
// rewrites it in place.
type Connection struct {
	ID           primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Name         string                 `json:"name" bson:"name"`
	ProviderType providers.ProviderType `json:"provider_type" bson:"provider_type"`

	AccessToken    string    `json:"-" bson:"access_token"`
	RefreshToken   string    `json:"-" bson:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at" bson:"token_expires_at"`
	EnvironmentURL string    `json:"environment_url" bson:"environment_url"`
	WebhookSecret  string    `json:"-" bson:"webhook_secret"`

	DefaultDirection    common_models.SyncDirection `json:"default_direction" bson:"default_direction"`
	SyncIntervalMinutes int                         `json:"sync_interval_minutes" bson:"sync_interval_minutes"`
	IsEnabled           bool                        `json:"is_enabled" bson:"is_enabled"`

	LastSyncAt    time.Time `json:"last_sync_at" bson:"last_sync_at"`
	LastSyncError string    `json:"last_sync_error,omitempty" bson:"last_sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Credentials builds the per-call credential set handed to an adapter.
func (c *Connection) Credentials() providers.Credentials {
	return providers.Credentials{
		AccessToken:    c.AccessToken,
		RefreshToken:   c.RefreshToken,
		EnvironmentURL: c.EnvironmentURL,
	}
}

// TokenExpiringWithin reports whether the access token expires inside the
// given window and needs a preflight refresh.
func (c *Connection) TokenExpiringWithin(window time.Duration) bool {
	if c.TokenExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(window).After(c.TokenExpiresAt)
}
