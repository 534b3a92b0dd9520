package correlation

import (
	"context"
	"fmt"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ExternalIDRepository interface {
	// FindByPlatform resolves the CRM side of a platform record.
	FindByPlatform(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType, platformID primitive.ObjectID) (*ExternalID, error)
	// FindByCrm resolves the platform side of a CRM record.
	FindByCrm(ctx context.Context, connectionID primitive.ObjectID, crmEntityName, crmID string) (*ExternalID, error)
	Upsert(ctx context.Context, row *ExternalID) error
	List(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) ([]ExternalID, error)
	CountByType(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) (int64, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error
	EnsureIndexes(ctx context.Context) error
}

type ExternalIDRepositoryImpl struct {
	collection *mongo.Collection
}

func NewExternalIDRepository(db *database.MongodbDB) ExternalIDRepository {
	return &ExternalIDRepositoryImpl{
		collection: db.DB.Collection("external_ids"),
	}
}

// EnsureIndexes creates the two unique indexes the correlator depends on.
// Both must hold: each platform record and each CRM record correlates to
// exactly one counterpart per connection.
func (r *ExternalIDRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "connection_id", Value: 1},
				{Key: "platform_entity_type", Value: 1},
				{Key: "platform_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "connection_id", Value: 1},
				{Key: "crm_entity_name", Value: 1},
				{Key: "crm_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

func (r *ExternalIDRepositoryImpl) FindByPlatform(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType, platformID primitive.ObjectID) (*ExternalID, error) {
	var row ExternalID
	err := r.collection.FindOne(ctx, bson.M{
		"connection_id":        connectionID,
		"platform_entity_type": entityType,
		"platform_id":          platformID,
	}).Decode(&row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *ExternalIDRepositoryImpl) FindByCrm(ctx context.Context, connectionID primitive.ObjectID, crmEntityName, crmID string) (*ExternalID, error) {
	var row ExternalID
	err := r.collection.FindOne(ctx, bson.M{
		"connection_id":   connectionID,
		"crm_entity_name": crmEntityName,
		"crm_id":          crmID,
	}).Decode(&row)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert writes a correlation row keyed on the platform side. A duplicate
// key error on either unique index means the mapping correlated two records
// to the same counterpart; the caller treats that as ErrConflict and fails
// only the affected record.
func (r *ExternalIDRepositoryImpl) Upsert(ctx context.Context, row *ExternalID) error {
	now := time.Now()
	filter := bson.M{
		"connection_id":        row.ConnectionID,
		"platform_entity_type": row.PlatformEntityType,
		"platform_id":          row.PlatformID,
	}
	update := bson.M{
		"$set": bson.M{
			"crm_entity_name":     row.CrmEntityName,
			"crm_id":              row.CrmID,
			"last_synced_at":      row.LastSyncedAt,
			"last_sync_direction": row.LastSyncDirection,
			"last_sync_hash":      row.LastSyncHash,
			"updated_at":          now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("crm record %s/%s already correlated: %w", row.CrmEntityName, row.CrmID, ErrConflict)
		}
		return err
	}
	return nil
}

func (r *ExternalIDRepositoryImpl) List(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) ([]ExternalID, error) {
	filter := bson.M{"connection_id": connectionID}
	if entityType != "" {
		filter["platform_entity_type"] = entityType
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []ExternalID
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ExternalIDRepositoryImpl) CountByType(ctx context.Context, connectionID primitive.ObjectID, entityType common_models.EntityType) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{
		"connection_id":        connectionID,
		"platform_entity_type": entityType,
	})
}

func (r *ExternalIDRepositoryImpl) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *ExternalIDRepositoryImpl) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"connection_id": connectionID})
	return err
}
