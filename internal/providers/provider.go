package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies a supported CRM vendor.
type ProviderType string

const (
	ProviderDynamics365 ProviderType = "dynamics365"
	ProviderHubSpot     ProviderType = "hubspot"
)

func (t ProviderType) Valid() bool {
	switch t {
	case ProviderDynamics365, ProviderHubSpot:
		return true
	}
	return false
}

// Sentinel errors adapters translate vendor responses into. The orchestrator
// matches these with errors.Is to pick a retry policy.
var (
	ErrUnsupportedProvider = errors.New("unsupported crm provider")
	ErrAuthExpired         = errors.New("crm authorization expired")
	ErrTransient           = errors.New("transient crm provider error")
	ErrNotFound            = errors.New("crm record not found")
)

// Credentials carries per-connection secrets into an adapter call. Adapters
// are process-cached and must stay stateless with respect to connections.
type Credentials struct {
	AccessToken    string
	RefreshToken   string
	EnvironmentURL string
}

// TokenSet is the result of a refresh or authorization-code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// EntityInfo describes one CRM entity type discovered from vendor metadata.
type EntityInfo struct {
	LogicalName    string `json:"logical_name"`
	DisplayName    string `json:"display_name"`
	PrimaryIDField string `json:"primary_id_field"`
}

// FieldInfo describes one field of a CRM entity.
type FieldInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// ListOptions bounds a bulk fetch. ModifiedField names the vendor-side
// modified-date attribute used to build the incremental filter.
type ListOptions struct {
	ModifiedSince *time.Time
	ModifiedField string
	Filter        string // provider-specific filter expression from the mapping
	Top           int
}

// CrmWebhookEvent is the canonical form every vendor payload is parsed into.
type CrmWebhookEvent struct {
	ID         string     `json:"id"`
	EventType  string     `json:"event_type"` // create, update, delete
	EntityName string     `json:"entity_name"`
	RecordID   string     `json:"record_id"`
	Record     *CrmRecord `json:"-"` // optional partial record
	OccurredAt time.Time  `json:"occurred_at"`
}

// CrmProvider is the capability set one CRM vendor adapter must implement.
// Adapters do pure protocol translation and hold no per-connection state.
type CrmProvider interface {
	Type() ProviderType

	ValidateConnection(ctx context.Context, creds Credentials) error
	RefreshToken(ctx context.Context, creds Credentials) (*TokenSet, error)
	AuthorizationURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	ListEntities(ctx context.Context, creds Credentials) ([]EntityInfo, error)
	ListFields(ctx context.Context, creds Credentials, entity string) ([]FieldInfo, error)

	GetRecord(ctx context.Context, creds Credentials, entity, id string) (*CrmRecord, error)
	ListRecords(ctx context.Context, creds Credentials, entity string, opts ListOptions) ([]*CrmRecord, error)
	CreateRecord(ctx context.Context, creds Credentials, entity string, rec *CrmRecord) (string, error)
	UpdateRecord(ctx context.Context, creds Credentials, entity, id string, rec *CrmRecord) error
	DeleteRecord(ctx context.Context, creds Credentials, entity, id string) error

	RegisterWebhook(ctx context.Context, creds Credentials, callbackURL, secret string) (string, error)
	ParseWebhook(body []byte) (*CrmWebhookEvent, error)
	// ValidateWebhookSignature must be constant-time and fail closed: any
	// malformed signature or payload returns false, never an error.
	ValidateWebhookSignature(body []byte, signature, secret string) bool
}

// statusErr maps an HTTP status to the sentinel error family.
func statusErr(status int, vendor, detail string) error {
	switch {
	case status == 401:
		return fmt.Errorf("%s returned 401: %s: %w", vendor, detail, ErrAuthExpired)
	case status == 404:
		return fmt.Errorf("%s returned 404: %w", vendor, ErrNotFound)
	case status == 408 || status == 429 || status >= 500:
		return fmt.Errorf("%s returned %d: %s: %w", vendor, status, detail, ErrTransient)
	default:
		return fmt.Errorf("%s returned %d: %s", vendor, status, detail)
	}
}
