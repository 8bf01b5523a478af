package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/parley/types"
)

// MongoConfig configures the document store.
type MongoConfig struct {
	URI        string `yaml:"uri" json:"uri"`
	Database   string `yaml:"database" json:"database"`
	Collection string `yaml:"collection" json:"collection"`
}

// MongoStore persists conversations as documents, one per conversation,
// keyed by _id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

var _ Store = (*MongoStore)(nil)

type mongoDoc struct {
	ID           string             `bson:"_id"`
	Status       string             `bson:"status"`
	Conversation types.Conversation `bson:"conversation"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if cfg.Database == "" {
		cfg.Database = "parley"
	}
	if cfg.Collection == "" {
		cfg.Collection = "conversations"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	logger.Info("document store ready",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))

	return &MongoStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}, nil
}

func (s *MongoStore) Save(ctx context.Context, conv *types.Conversation) error {
	doc := mongoDoc{ID: conv.ID, Status: string(conv.Status), Conversation: *conv}
	_, err := s.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: conv.ID}},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *MongoStore) Load(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	conv := doc.Conversation
	return &conv, nil
}

func (s *MongoStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: conversationID}})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context) ([]string, error) {
	cursor, err := s.coll.Find(ctx,
		bson.D{},
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
