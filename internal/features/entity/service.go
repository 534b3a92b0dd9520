package entity

import (
	"context"
	"fmt"
	"time"

	common_models "crm-sync/internal/common/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// OutboundTrigger pushes one platform record to every matching connection.
// The sync orchestrator satisfies it; wiring happens in main so the entity
// store does not import the sync feature.
type OutboundTrigger interface {
	TriggerOutbound(ctx context.Context, entityType common_models.EntityType, platformID string)
}

type EntityService interface {
	GetRecord(ctx context.Context, entityType common_models.EntityType, id string) (*common_models.PlatformRecord, error)
	ListRecords(ctx context.Context, entityType common_models.EntityType, page, pageSize int) ([]common_models.PlatformRecord, error)
	CreateRecord(ctx context.Context, record *common_models.PlatformRecord) error
	UpdateRecord(ctx context.Context, entityType common_models.EntityType, id string, data map[string]any) error
	DeleteRecord(ctx context.Context, entityType common_models.EntityType, id string) error
	SetOutboundTrigger(trigger OutboundTrigger)
}

type EntityServiceImpl struct {
	Repo    PlatformRecordRepository
	Logger  *zap.Logger
	trigger OutboundTrigger
}

func NewEntityService(repo PlatformRecordRepository, logger *zap.Logger) EntityService {
	return &EntityServiceImpl{
		Repo:   repo,
		Logger: logger,
	}
}

func (s *EntityServiceImpl) SetOutboundTrigger(trigger OutboundTrigger) {
	s.trigger = trigger
}

func (s *EntityServiceImpl) GetRecord(ctx context.Context, entityType common_models.EntityType, id string) (*common_models.PlatformRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}
	return s.Repo.Get(ctx, entityType, oid)
}

func (s *EntityServiceImpl) ListRecords(ctx context.Context, entityType common_models.EntityType, page, pageSize int) ([]common_models.PlatformRecord, error) {
	return s.Repo.List(ctx, entityType, page, pageSize)
}

func (s *EntityServiceImpl) CreateRecord(ctx context.Context, record *common_models.PlatformRecord) error {
	if !record.EntityType.Valid() {
		return fmt.Errorf("invalid entity type %q", record.EntityType)
	}
	if err := s.Repo.Create(ctx, record); err != nil {
		return err
	}
	s.fireOutbound(ctx, record.EntityType, record.ID.Hex())
	return nil
}

func (s *EntityServiceImpl) UpdateRecord(ctx context.Context, entityType common_models.EntityType, id string, data map[string]any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	if err := s.Repo.UpdateFields(ctx, entityType, oid, data); err != nil {
		return err
	}
	s.fireOutbound(ctx, entityType, id)
	return nil
}

func (s *EntityServiceImpl) DeleteRecord(ctx context.Context, entityType common_models.EntityType, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	return s.Repo.Delete(ctx, entityType, oid)
}

// fireOutbound kicks the push asynchronously; a platform write never waits
// on CRM round trips.
func (s *EntityServiceImpl) fireOutbound(ctx context.Context, entityType common_models.EntityType, id string) {
	if s.trigger == nil {
		return
	}
	go func() {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()
		s.trigger.TriggerOutbound(pushCtx, entityType, id)
	}()
}
