package db

import (
	"context"

	"github.com/ukydev/greenroof-monitor/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ReadingCollection defines the interface for sensor reading persistence.
type ReadingCollection interface {
	InsertReading(ctx context.Context, record models.StoredRecord) (primitive.ObjectID, error)
	FindReadings(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (ReadingCursor, error)
}

// ReadingCursor defines the interface for reading cursor operations.
type ReadingCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
