package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-sync/internal/config"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// CascadePurger removes connection-scoped documents when a connection is
// deleted. Mapping and correlation repositories satisfy it; wiring happens
// in main to keep the features decoupled.
type CascadePurger interface {
	DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error
}

type ConnectionService interface {
	CreateConnection(ctx context.Context, conn *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	ListEnabled(ctx context.Context) ([]Connection, error)
	UpdateConnection(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteConnection(ctx context.Context, id string) error

	ValidateConnection(ctx context.Context, id string) error
	AuthorizationURL(providerType providers.ProviderType, state, redirectURI string) (string, error)
	ExchangeCode(ctx context.Context, id, code, redirectURI string) error

	// EnsureValidToken refreshes the access token when it is close to
	// expiry and returns the up-to-date connection. Refreshes for one
	// connection are serialized so two workers cannot invalidate each
	// other's token.
	EnsureValidToken(ctx context.Context, conn *Connection) (*Connection, error)
	ForceRefresh(ctx context.Context, conn *Connection) (*Connection, error)

	RecordSyncResult(ctx context.Context, id string, syncErr error)
}

type ConnectionServiceImpl struct {
	Repo     ConnectionRepository
	Registry *providers.Registry
	Config   *config.Config
	Logger   *zap.Logger
	Purgers  []CascadePurger

	refreshMu sync.Mutex
	refreshes map[string]*sync.Mutex
}

func NewConnectionService(repo ConnectionRepository, registry *providers.Registry, cfg *config.Config, logger *zap.Logger, purgers []CascadePurger) ConnectionService {
	return &ConnectionServiceImpl{
		Repo:      repo,
		Registry:  registry,
		Config:    cfg,
		Logger:    logger,
		Purgers:   purgers,
		refreshes: make(map[string]*sync.Mutex),
	}
}

func (s *ConnectionServiceImpl) CreateConnection(ctx context.Context, conn *Connection) error {
	if !conn.ProviderType.Valid() {
		return fmt.Errorf("invalid provider type %q", conn.ProviderType)
	}
	if _, err := s.Registry.Get(conn.ProviderType); err != nil {
		return err
	}
	if !conn.DefaultDirection.Valid() {
		return fmt.Errorf("invalid default direction %q", conn.DefaultDirection)
	}
	if conn.SyncIntervalMinutes <= 0 {
		conn.SyncIntervalMinutes = 15
	}
	return s.Repo.Create(ctx, conn)
}

func (s *ConnectionServiceImpl) GetConnection(ctx context.Context, id string) (*Connection, error) {
	return s.Repo.Get(ctx, id)
}

func (s *ConnectionServiceImpl) ListConnections(ctx context.Context) ([]Connection, error) {
	return s.Repo.List(ctx)
}

func (s *ConnectionServiceImpl) ListEnabled(ctx context.Context) ([]Connection, error) {
	return s.Repo.ListEnabled(ctx)
}

func (s *ConnectionServiceImpl) UpdateConnection(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.Repo.Update(ctx, id, updates)
}

func (s *ConnectionServiceImpl) DeleteConnection(ctx context.Context, id string) error {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// Cascade first so a failed purge leaves the connection intact
	for _, purger := range s.Purgers {
		if err := purger.DeleteByConnection(ctx, conn.ID); err != nil {
			return fmt.Errorf("cascade delete for connection %s: %w", id, err)
		}
	}

	return s.Repo.Delete(ctx, id)
}

func (s *ConnectionServiceImpl) ValidateConnection(ctx context.Context, id string) error {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}

	adapter, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return err
	}

	conn, err = s.EnsureValidToken(ctx, conn)
	if err != nil {
		return err
	}
	return adapter.ValidateConnection(ctx, conn.Credentials())
}

func (s *ConnectionServiceImpl) AuthorizationURL(providerType providers.ProviderType, state, redirectURI string) (string, error) {
	adapter, err := s.Registry.Get(providerType)
	if err != nil {
		return "", err
	}
	return adapter.AuthorizationURL(state, redirectURI), nil
}

func (s *ConnectionServiceImpl) ExchangeCode(ctx context.Context, id, code, redirectURI string) error {
	conn, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}

	adapter, err := s.Registry.Get(conn.ProviderType)
	if err != nil {
		return err
	}

	tokens, err := adapter.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return err
	}
	return s.Repo.SaveTokens(ctx, id, tokens)
}

func (s *ConnectionServiceImpl) EnsureValidToken(ctx context.Context, conn *Connection) (*Connection, error) {
	window := time.Duration(s.Config.TokenRefreshWindow) * time.Minute
	if !conn.TokenExpiringWithin(window) {
		return conn, nil
	}
	return s.ForceRefresh(ctx, conn)
}

func (s *ConnectionServiceImpl) ForceRefresh(ctx context.Context, conn *Connection) (*Connection, error) {
	lock := s.refreshLock(conn.ID.Hex())
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock
	fresh, err := s.Repo.Get(ctx, conn.ID.Hex())
	if err != nil {
		return nil, err
	}
	window := time.Duration(s.Config.TokenRefreshWindow) * time.Minute
	if !fresh.TokenExpiringWithin(window) && fresh.AccessToken != conn.AccessToken {
		return fresh, nil
	}

	adapter, err := s.Registry.Get(fresh.ProviderType)
	if err != nil {
		return nil, err
	}

	tokens, err := adapter.RefreshToken(ctx, fresh.Credentials())
	if err != nil {
		return nil, fmt.Errorf("refresh token for connection %s: %w", conn.ID.Hex(), err)
	}

	if err := s.Repo.SaveTokens(ctx, fresh.ID.Hex(), tokens); err != nil {
		return nil, err
	}

	s.Logger.Info("refreshed crm access token",
		zap.String("connectionId", fresh.ID.Hex()),
		zap.Time("expiresAt", tokens.ExpiresAt))

	fresh.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		fresh.RefreshToken = tokens.RefreshToken
	}
	fresh.TokenExpiresAt = tokens.ExpiresAt
	return fresh, nil
}

func (s *ConnectionServiceImpl) RecordSyncResult(ctx context.Context, id string, syncErr error) {
	updates := map[string]interface{}{
		"last_sync_at":    time.Now(),
		"last_sync_error": "",
	}
	if syncErr != nil {
		updates["last_sync_error"] = syncErr.Error()
	}
	if err := s.Repo.Update(ctx, id, updates); err != nil {
		s.Logger.Warn("failed to record sync result",
			zap.String("connectionId", id), zap.Error(err))
	}
}

func (s *ConnectionServiceImpl) refreshLock(id string) *sync.Mutex {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	lock, ok := s.refreshes[id]
	if !ok {
		lock = &sync.Mutex{}
		s.refreshes[id] = lock
	}
	return lock
}
