package webhook

import (
	"context"
	"errors"
	"fmt"

	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/sync"
	"crm-sync/internal/providers"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidSignature rejects a delivery whose HMAC does not match the
// connection's stored secret. Nothing from the payload is processed.
var ErrInvalidSignature = errors.New("webhook signature validation failed")

// IngestService authenticates and parses raw vendor deliveries, then hands
// the canonical event to the sync orchestrator. It is payload-format
// agnostic beyond what the provider's parser understands.
type IngestService interface {
	Ingest(ctx context.Context, connectionID string, body []byte, signature string) (*sync.SyncResult, error)
	RegisterWebhook(ctx context.Context, connectionID, callbackURL string) (string, error)
}

type IngestServiceImpl struct {
	Connections connection.ConnectionService
	Registry    *providers.Registry
	Sync        sync.SyncService
	Logger      *zap.Logger
}

func NewIngestService(connections connection.ConnectionService, registry *providers.Registry, syncService sync.SyncService, logger *zap.Logger) IngestService {
	return &IngestServiceImpl{
		Connections: connections,
		Registry:    registry,
		Sync:        syncService,
		Logger:      logger,
	}
}

// Ingest validates the delivery's signature fail-closed. A rejected
// delivery produces one security-audit log tagged "webhook-rejected" and
// nothing else; no payload content is parsed or stored.
func (s *IngestServiceImpl) Ingest(ctx context.Context, connectionID string, body []byte, signature string) (*sync.SyncResult, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return nil, err
	}

	if !provider.ValidateWebhookSignature(body, signature, conn.WebhookSecret) {
		s.Logger.Warn("webhook-rejected",
			zap.String("connectionId", connectionID),
			zap.String("provider", string(conn.ProviderType)))
		return nil, ErrInvalidSignature
	}

	event, err := provider.ParseWebhook(body)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook payload: %w", err)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	s.Logger.Info("webhook accepted",
		zap.String("connectionId", connectionID),
		zap.String("entity", event.EntityName),
		zap.String("eventType", event.EventType),
		zap.String("eventId", event.ID))

	return s.Sync.ProcessWebhook(ctx, connectionID, event)
}

// RegisterWebhook asks the vendor to deliver change events for this
// connection to the given callback URL, using the stored secret.
func (s *IngestServiceImpl) RegisterWebhook(ctx context.Context, connectionID, callbackURL string) (string, error) {
	conn, err := s.Connections.GetConnection(ctx, connectionID)
	if err != nil {
		return "", err
	}

	provider, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return "", err
	}

	conn, err = s.Connections.EnsureValidToken(ctx, conn)
	if err != nil {
		return "", err
	}

	return provider.RegisterWebhook(ctx, conn.Credentials(), callbackURL, conn.WebhookSecret)
}
