package sync

import (
	"context"
	"time"

	"crm-sync/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SyncLogFilter narrows log queries. Zero values are ignored.
type SyncLogFilter struct {
	ConnectionID primitive.ObjectID
	Status       string
	Action       string
	Since        time.Time
	Page         int
	PageSize     int
}

type SyncLogRepository interface {
	Append(ctx context.Context, log *SyncLog) error
	List(ctx context.Context, filter SyncLogFilter) ([]SyncLog, error)
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]SyncLog, error)
	Stats(ctx context.Context, connectionID primitive.ObjectID) (*SyncLogStats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error
	EnsureIndexes(ctx context.Context) error
}

type SyncLogRepositoryImpl struct {
	collection *mongo.Collection
}

func NewSyncLogRepository(db *database.MongodbDB) SyncLogRepository {
	return &SyncLogRepositoryImpl{
		collection: db.DB.Collection("sync_logs"),
	}
}

func (r *SyncLogRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "connection_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	return err
}

// Append inserts one audit row. Rows are append-only; there is no update.
func (r *SyncLogRepositoryImpl) Append(ctx context.Context, log *SyncLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	result, err := r.collection.InsertOne(ctx, log)
	if err != nil {
		return err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		log.ID = oid
	}
	return nil
}

func (r *SyncLogRepositoryImpl) List(ctx context.Context, filter SyncLogFilter) ([]SyncLog, error) {
	query := bson.M{}
	if !filter.ConnectionID.IsZero() {
		query["connection_id"] = filter.ConnectionID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Action != "" {
		query["action"] = filter.Action
	}
	if !filter.Since.IsZero() {
		query["created_at"] = bson.M{"$gte": filter.Since}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []SyncLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *SyncLogRepositoryImpl) ListOlderThan(ctx context.Context, cutoff time.Time) ([]SyncLog, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"created_at": bson.M{"$lt": cutoff}},
		options.Find().SetSort(bson.M{"created_at": 1}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []SyncLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *SyncLogRepositoryImpl) Stats(ctx context.Context, connectionID primitive.ObjectID) (*SyncLogStats, error) {
	match := bson.M{}
	if !connectionID.IsZero() {
		match["connection_id"] = connectionID
	}

	stats := &SyncLogStats{
		ByStatus: make(map[string]int64),
		ByAction: make(map[string]int64),
	}

	total, err := r.collection.CountDocuments(ctx, match)
	if err != nil {
		return nil, err
	}
	stats.Total = total

	cursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"status": "$status", "action": "$action"},
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID struct {
			Status string `bson:"status"`
			Action string `bson:"action"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByStatus[row.ID.Status] += row.Count
		stats.ByAction[row.ID.Action] += row.Count
	}
	return stats, nil
}

func (r *SyncLogRepositoryImpl) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

func (r *SyncLogRepositoryImpl) DeleteByConnection(ctx context.Context, connectionID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"connection_id": connectionID})
	return err
}
