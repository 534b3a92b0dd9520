package sync

import (
	"context"
	"fmt"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/features/connection"
	"crm-sync/internal/features/correlation"
	"crm-sync/internal/features/entity"
	"crm-sync/internal/features/mapping"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DiagnosticsService interface {
	GetSyncDiagnostics(ctx context.Context, connectionID string) (*Diagnostics, error)
}

type DiagnosticsServiceImpl struct {
	Connections  connection.ConnectionRepository
	Mappings     mapping.EntityMappingRepository
	Correlations correlation.ExternalIDRepository
	Entities     entity.PlatformRecordRepository
}

func NewDiagnosticsService(
	connections connection.ConnectionRepository,
	mappings mapping.EntityMappingRepository,
	correlations correlation.ExternalIDRepository,
	entities entity.PlatformRecordRepository,
) DiagnosticsService {
	return &DiagnosticsServiceImpl{
		Connections:  connections,
		Mappings:     mappings,
		Correlations: correlations,
		Entities:     entities,
	}
}

// GetSyncDiagnostics is a read-side aggregation used to spot
// misconfiguration, typically large numbers of platform records that no
// mapping ever correlated.
func (s *DiagnosticsServiceImpl) GetSyncDiagnostics(ctx context.Context, connectionID string) (*Diagnostics, error) {
	conn, err := s.Connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	d := &Diagnostics{ConnectionID: connectionID}

	if d.TotalUsers, err = s.Entities.Count(ctx, common_models.EntityTypeUser); err != nil {
		return nil, err
	}
	if d.TotalCompanies, err = s.Entities.Count(ctx, common_models.EntityTypeCompany); err != nil {
		return nil, err
	}
	if d.TotalLocations, err = s.Entities.Count(ctx, common_models.EntityTypeLocation); err != nil {
		return nil, err
	}

	if d.CorrelatedUsers, err = s.Correlations.CountByType(ctx, conn.ID, common_models.EntityTypeUser); err != nil {
		return nil, err
	}
	if d.CorrelatedCompanies, err = s.Correlations.CountByType(ctx, conn.ID, common_models.EntityTypeCompany); err != nil {
		return nil, err
	}
	if d.CorrelatedLocations, err = s.Correlations.CountByType(ctx, conn.ID, common_models.EntityTypeLocation); err != nil {
		return nil, err
	}

	mappings, err := s.Mappings.List(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	for i := range mappings {
		em := &mappings[i]
		d.SampleMappings = append(d.SampleMappings,
			fmt.Sprintf("%s -> %s (%d fields, %d relationships, enabled=%t)",
				em.CrmEntityName, em.PlatformEntityType, len(em.FieldMappings), len(em.RelationshipMappings), em.IsEnabled))
		for j := range em.RelationshipMappings {
			rm := &em.RelationshipMappings[j]
			if rm.RelatedPlatformType == common_models.EntityTypeCompany {
				d.CrmContactsWithCompany, _ = s.countLookupHolders(ctx, conn.ID, em)
			}
		}
	}

	d.Recommendation = coverageRecommendation(d)
	return d, nil
}

// countLookupHolders counts correlated records of a mapping whose platform
// side carries a company reference.
func (s *DiagnosticsServiceImpl) countLookupHolders(ctx context.Context, connID primitive.ObjectID, em *mapping.EntityMapping) (int64, error) {
	rows, err := s.Correlations.List(ctx, connID, em.PlatformEntityType)
	if err != nil {
		return 0, err
	}
	var count int64
	for i := range rows {
		if rows[i].CrmEntityName != em.CrmEntityName {
			continue
		}
		prec, err := s.Entities.Get(ctx, em.PlatformEntityType, rows[i].PlatformID)
		if err != nil {
			continue
		}
		for j := range em.RelationshipMappings {
			if _, ok := relatedPlatformID(prec.Field(em.RelationshipMappings[j].PlatformField)); ok {
				count++
				break
			}
		}
	}
	return count, nil
}

// coverageRecommendation flags entity types where fewer than half the
// platform records have a CRM counterpart.
func coverageRecommendation(d *Diagnostics) string {
	check := func(name string, total, correlated int64) string {
		if total == 0 || correlated*2 >= total {
			return ""
		}
		return fmt.Sprintf("only %d of %d %s are correlated with CRM records; review the %s mapping and run a full sync. ",
			correlated, total, name, name)
	}
	msg := check("users", d.TotalUsers, d.CorrelatedUsers) +
		check("companies", d.TotalCompanies, d.CorrelatedCompanies) +
		check("locations", d.TotalLocations, d.CorrelatedLocations)
	return msg
}
