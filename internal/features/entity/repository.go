package entity

import (
	"context"
	"time"

	common_models "crm-sync/internal/common/models"
	"crm-sync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PlatformRecordRepository reads and writes platform entities. Each entity
// type lives in its own collection, so every call takes the type to pick it.
type PlatformRecordRepository interface {
	Get(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) (*common_models.PlatformRecord, error)
	List(ctx context.Context, entityType common_models.EntityType, page, pageSize int) ([]common_models.PlatformRecord, error)
	ListModifiedSince(ctx context.Context, entityType common_models.EntityType, since time.Time) ([]common_models.PlatformRecord, error)
	Create(ctx context.Context, record *common_models.PlatformRecord) error
	Update(ctx context.Context, record *common_models.PlatformRecord) error
	UpdateFields(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID, fields map[string]any) error
	Delete(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) error
	Count(ctx context.Context, entityType common_models.EntityType) (int64, error)
}

type PlatformRecordRepositoryImpl struct {
	db *database.MongodbDB
}

func NewPlatformRecordRepository(db *database.MongodbDB) PlatformRecordRepository {
	return &PlatformRecordRepositoryImpl{db: db}
}

func (r *PlatformRecordRepositoryImpl) collection(entityType common_models.EntityType) *mongo.Collection {
	return r.db.DB.Collection(entityType.Collection())
}

func (r *PlatformRecordRepositoryImpl) Get(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) (*common_models.PlatformRecord, error) {
	var record common_models.PlatformRecord
	err := r.collection(entityType).FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err != nil {
		return nil, err
	}
	record.EntityType = entityType
	return &record, nil
}

func (r *PlatformRecordRepositoryImpl) List(ctx context.Context, entityType common_models.EntityType, page, pageSize int) ([]common_models.PlatformRecord, error) {
	if page < 1 {
		page = 1
	}
	opts := options.Find().SetSort(bson.M{"updated_at": 1})
	if pageSize > 0 {
		opts.SetSkip(int64((page - 1) * pageSize)).SetLimit(int64(pageSize))
	}

	cursor, err := r.collection(entityType).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return r.decodeAll(ctx, cursor, entityType)
}

func (r *PlatformRecordRepositoryImpl) ListModifiedSince(ctx context.Context, entityType common_models.EntityType, since time.Time) ([]common_models.PlatformRecord, error) {
	cursor, err := r.collection(entityType).Find(ctx,
		bson.M{"updated_at": bson.M{"$gt": since}},
		options.Find().SetSort(bson.M{"updated_at": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	return r.decodeAll(ctx, cursor, entityType)
}

func (r *PlatformRecordRepositoryImpl) decodeAll(ctx context.Context, cursor *mongo.Cursor, entityType common_models.EntityType) ([]common_models.PlatformRecord, error) {
	var records []common_models.PlatformRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	for i := range records {
		records[i].EntityType = entityType
	}
	return records, nil
}

func (r *PlatformRecordRepositoryImpl) Create(ctx context.Context, record *common_models.PlatformRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := r.collection(record.EntityType).InsertOne(ctx, record)
	if err != nil {
		return err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		record.ID = oid
	}
	return nil
}

func (r *PlatformRecordRepositoryImpl) Update(ctx context.Context, record *common_models.PlatformRecord) error {
	record.UpdatedAt = time.Now()
	_, err := r.collection(record.EntityType).UpdateOne(ctx,
		bson.M{"_id": record.ID},
		bson.M{"$set": bson.M{
			"data":       record.Data,
			"updated_at": record.UpdatedAt,
		}},
	)
	return err
}

// UpdateFields patches individual data fields without replacing the whole
// document, so inbound partial updates keep unmapped platform fields intact.
func (r *PlatformRecordRepositoryImpl) UpdateFields(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID, fields map[string]any) error {
	set := bson.M{"updated_at": time.Now()}
	for name, value := range fields {
		set["data."+name] = value
	}
	_, err := r.collection(entityType).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

func (r *PlatformRecordRepositoryImpl) Delete(ctx context.Context, entityType common_models.EntityType, id primitive.ObjectID) error {
	_, err := r.collection(entityType).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *PlatformRecordRepositoryImpl) Count(ctx context.Context, entityType common_models.EntityType) (int64, error) {
	return r.collection(entityType).CountDocuments(ctx, bson.M{})
}
