package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig locates the readings collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// ConnectMongo connects to MongoDB and pings it to verify the connection.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoConnector returns a Connector for cfg, or nil when no URI was resolved.
// A nil Connector leaves the Store unconfigured.
func MongoConnector(cfg MongoConfig) Connector {
	if cfg.URI == "" {
		return nil
	}
	return func(ctx context.Context) (ReadingCollection, error) {
		client, err := ConnectMongo(ctx, cfg.URI, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		coll := &MongoCollection{Collection: client.Database(cfg.Database).Collection(cfg.Collection)}
		if err := coll.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("Failed to create reading indexes")
		}
		log.WithFields(log.Fields{
			"database":   cfg.Database,
			"collection": cfg.Collection,
		}).Info("Connected to MongoDB")
		return coll, nil
	}
}

// MongoCollection wraps a MongoDB collection for reading operations.
type MongoCollection struct {
	Collection *mongo.Collection
}

// InsertReading inserts a record and returns the id assigned by the driver.
func (c *MongoCollection) InsertReading(ctx context.Context, record models.StoredRecord) (primitive.ObjectID, error) {
	if c.Collection == nil {
		return primitive.NilObjectID, fmt.Errorf("mongo collection is nil")
	}
	res, err := c.Collection.InsertOne(ctx, record)
	if err != nil {
		return primitive.NilObjectID, err
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id, nil
}

// mongoReadingCursor wraps a MongoDB cursor for reading queries.
type mongoReadingCursor struct {
	cursor *mongo.Cursor
}

// All retrieves all results from the cursor.
func (m *mongoReadingCursor) All(ctx context.Context, out interface{}) error {
	return m.cursor.All(ctx, out)
}

func (m *mongoReadingCursor) Close(ctx context.Context) error {
	return m.cursor.Close(ctx)
}

// FindReadings queries reading records from the collection.
func (c *MongoCollection) FindReadings(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (ReadingCursor, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoReadingCursor{cursor: cursor}, nil
}

// EnsureIndexes creates the (device_id, server_timestamp) index backing the
// filtered, newest-first query.
func (c *MongoCollection) EnsureIndexes(ctx context.Context) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	_, err := c.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "device_id", Value: 1},
				{Key: "server_timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "server_timestamp", Value: -1}},
		},
	})
	return err
}

// Close disconnects the underlying client.
func (c *MongoCollection) Close(ctx context.Context) error {
	if c.Collection == nil {
		return nil
	}
	return c.Collection.Database().Client().Disconnect(ctx)
}
