package mapping

import (
	"context"
	"time"

	"crm-sync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type EntityMappingRepository interface {
	Create(ctx context.Context, m *EntityMapping) error
	Get(ctx context.Context, id string) (*EntityMapping, error)
	List(ctx context.Context, connectionID primitive.ObjectID) ([]EntityMapping, error)
	ListEnabled(ctx context.Context, connectionID primitive.ObjectID) ([]EntityMapping, error)
	FindByCrmEntity(ctx context.Context, connectionID primitive.ObjectID, crmEntityName string) (*EntityMapping, error)
	FindByPlatformType(ctx context.Context, connectionID primitive.ObjectID, entityType string) ([]EntityMapping, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error
	EnsureIndexes(ctx context.Context) error
}

type EntityMappingRepositoryImpl struct {
	collection *mongo.Collection
}

func NewEntityMappingRepository(db *database.MongodbDB) EntityMappingRepository {
	return &EntityMappingRepositoryImpl{
		collection: db.DB.Collection("entity_mappings"),
	}
}

func (r *EntityMappingRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	// One mapping per (connection, CRM entity)
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "connection_id", Value: 1},
			{Key: "crm_entity_name", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *EntityMappingRepositoryImpl) Create(ctx context.Context, m *EntityMapping) error {
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	m.CreatedAt = time.Now()
	m.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, m)
	return err
}

func (r *EntityMappingRepositoryImpl) Get(ctx context.Context, id string) (*EntityMapping, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var m EntityMapping
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&m)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *EntityMappingRepositoryImpl) List(ctx context.Context, connectionID primitive.ObjectID) ([]EntityMapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "display_order", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"connection_id": connectionID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var mappings []EntityMapping
	if err = cursor.All(ctx, &mappings); err != nil {
		return nil, err
	}

	return mappings, nil
}

func (r *EntityMappingRepositoryImpl) ListEnabled(ctx context.Context, connectionID primitive.ObjectID) ([]EntityMapping, error) {
	opts := options.Find().SetSort(bson.D{{Key: "display_order", Value: 1}})
	filter := bson.M{"connection_id": connectionID, "is_enabled": true}
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var mappings []EntityMapping
	if err = cursor.All(ctx, &mappings); err != nil {
		return nil, err
	}

	return mappings, nil
}

func (r *EntityMappingRepositoryImpl) FindByCrmEntity(ctx context.Context, connectionID primitive.ObjectID, crmEntityName string) (*EntityMapping, error) {
	var m EntityMapping
	err := r.collection.FindOne(ctx, bson.M{
		"connection_id":   connectionID,
		"crm_entity_name": crmEntityName,
	}).Decode(&m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *EntityMappingRepositoryImpl) FindByPlatformType(ctx context.Context, connectionID primitive.ObjectID, entityType string) ([]EntityMapping, error) {
	cursor, err := r.collection.Find(ctx, bson.M{
		"connection_id":        connectionID,
		"platform_entity_type": entityType,
		"is_enabled":           true,
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var mappings []EntityMapping
	if err = cursor.All(ctx, &mappings); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *EntityMappingRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	updates["updated_at"] = time.Now()
	_, err = r.collection.UpdateOne(
		ctx,
		bson.M{"_id": oid},
		bson.M{"$set": updates},
	)
	return err
}

func (r *EntityMappingRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (r *EntityMappingRepositoryImpl) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"connection_id": connectionID})
	return err
}
