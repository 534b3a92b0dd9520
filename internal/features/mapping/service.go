package mapping

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MappingService interface {
	CreateMapping(ctx context.Context, m *EntityMapping) error
	GetMapping(ctx context.Context, id string) (*EntityMapping, error)
	ListMappings(ctx context.Context, connectionID string) ([]EntityMapping, error)
	UpdateMapping(ctx context.Context, id string, updates map[string]interface{}) error
	DeleteMapping(ctx context.Context, id string) error
}

type MappingServiceImpl struct {
	Repo EntityMappingRepository
}

func NewMappingService(repo EntityMappingRepository) MappingService {
	return &MappingServiceImpl{Repo: repo}
}

func (s *MappingServiceImpl) CreateMapping(ctx context.Context, m *EntityMapping) error {
	if err := validateMapping(m); err != nil {
		return err
	}
	return s.Repo.Create(ctx, m)
}

func (s *MappingServiceImpl) GetMapping(ctx context.Context, id string) (*EntityMapping, error) {
	return s.Repo.Get(ctx, id)
}

func (s *MappingServiceImpl) ListMappings(ctx context.Context, connectionID string) ([]EntityMapping, error) {
	oid, err := primitive.ObjectIDFromHex(connectionID)
	if err != nil {
		return nil, err
	}
	return s.Repo.List(ctx, oid)
}

func (s *MappingServiceImpl) UpdateMapping(ctx context.Context, id string, updates map[string]interface{}) error {
	return s.Repo.Update(ctx, id, updates)
}

func (s *MappingServiceImpl) DeleteMapping(ctx context.Context, id string) error {
	return s.Repo.Delete(ctx, id)
}

func validateMapping(m *EntityMapping) error {
	if m.ConnectionID.IsZero() {
		return fmt.Errorf("connection_id is required")
	}
	if m.CrmEntityName == "" {
		return fmt.Errorf("crm_entity_name is required")
	}
	if !m.PlatformEntityType.Valid() {
		return fmt.Errorf("invalid platform entity type %q", m.PlatformEntityType)
	}
	if m.PrimaryKeyField == "" {
		return fmt.Errorf("primary_key_field is required")
	}
	if m.Direction != "" && !m.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", m.Direction)
	}
	for _, fm := range m.FieldMappings {
		if fm.PlatformField == "" || fm.CrmField == "" {
			return fmt.Errorf("field mapping must name both platform and crm fields")
		}
		if fm.Direction != "" && !fm.Direction.Valid() {
			return fmt.Errorf("invalid field direction %q for %s", fm.Direction, fm.CrmField)
		}
	}
	for _, rm := range m.RelationshipMappings {
		if rm.PlatformField == "" || rm.CrmLookupField == "" {
			return fmt.Errorf("relationship mapping must name both platform and crm lookup fields")
		}
		if !rm.RelatedPlatformType.Valid() {
			return fmt.Errorf("invalid related platform type %q", rm.RelatedPlatformType)
		}
		if rm.CrmRelatedEntity == "" {
			return fmt.Errorf("relationship mapping must name the crm related entity")
		}
	}
	return nil
}
