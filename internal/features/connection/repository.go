package connection

import (
	"context"
	"time"

	"crm-sync/internal/database"
	"crm-sync/internal/providers"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ConnectionRepository interface {
	Create(ctx context.Context, conn *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	List(ctx context.Context) ([]Connection, error)
	ListEnabled(ctx context.Context) ([]Connection, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	SaveTokens(ctx context.Context, id string, tokens *providers.TokenSet) error
	Delete(ctx context.Context, id string) error
}

type ConnectionRepositoryImpl struct {
	collection *mongo.Collection
}

func NewConnectionRepository(db *database.MongodbDB) ConnectionRepository {
	return &ConnectionRepositoryImpl{
		collection: db.DB.Collection("crm_connections"),
	}
}

func (r *ConnectionRepositoryImpl) Create(ctx context.Context, conn *Connection) error {
	if conn.ID.IsZero() {
		conn.ID = primitive.NewObjectID()
	}
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = time.Now()

	_, err := r.collection.InsertOne(ctx, conn)
	return err
}

func (r *ConnectionRepositoryImpl) Get(ctx context.Context, id string) (*Connection, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, err
	}

	var conn Connection
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&conn)
	if err != nil {
		return nil, err
	}

	return &conn, nil
}

func (r *ConnectionRepositoryImpl) List(ctx context.Context) ([]Connection, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, err
	}

	return conns, nil
}

func (r *ConnectionRepositoryImpl) ListEnabled(ctx context.Context) ([]Connection, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"is_enabled": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var conns []Connection
	if err = cursor.All(ctx, &conns); err != nil {
		return nil, err
	}

	return conns, nil
}

func (r *ConnectionRepositoryImpl) Update(ctx context.Context, id string, updates map[string]interface{}) error {
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

func (r *ConnectionRepositoryImpl) SaveTokens(ctx context.Context, id string, tokens *providers.TokenSet) error {
	updates := map[string]interface{}{
		"access_token":     tokens.AccessToken,
		"token_expires_at": tokens.ExpiresAt,
	}
	if tokens.RefreshToken != "" {
		updates["refresh_token"] = tokens.RefreshToken
	}
	return r.Update(ctx, id, updates)
}

func (r *ConnectionRepositoryImpl) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	_, err = r.collection.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}
