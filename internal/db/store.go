package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	OpInsert = "insert"
	OpQuery  = "query"
)

var (
	// ErrStoreUnavailable means the store was never reached: either no
	// credential was configured or the connection attempt failed.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidLimit     = errors.New("limit must be a positive integer")
)

// OperationError reports a failed insert or query against a connected store.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Connector opens the readings collection. It is called at most once per
// successful connection and never concurrently with itself.
type Connector func(ctx context.Context) (ReadingCollection, error)

// Query selects the newest records, optionally for a single device.
type Query struct {
	DeviceID string
	Limit    int
}

// Store is the handle every component uses to reach persisted readings.
// It is safe for concurrent use.
type Store struct {
	connect Connector

	mu         sync.RWMutex
	coll       ReadingCollection
	connecting bool
}

// NewStore creates a store that connects lazily through connect. A nil
// connect yields an unconfigured store whose operations fail with
// ErrStoreUnavailable.
func NewStore(connect Connector) *Store {
	return &Store{connect: connect}
}

// NewStoreWithCollection wraps an already open collection.
func NewStoreWithCollection(coll ReadingCollection) *Store {
	return &Store{
		connect: func(context.Context) (ReadingCollection, error) { return coll, nil },
		coll:    coll,
	}
}

// Configured reports whether a credential was resolved at startup.
func (s *Store) Configured() bool {
	return s.connect != nil
}

// Connected reports whether a connection has been established.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coll != nil
}

// Connect establishes the connection if it is not open yet.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.collection(ctx)
	return err
}

func (s *Store) collection(ctx context.Context) (ReadingCollection, error) {
	if s.connect == nil {
		return nil, fmt.Errorf("%w: no credential configured", ErrStoreUnavailable)
	}
	s.mu.Lock()
	if s.coll != nil {
		coll := s.coll
		s.mu.Unlock()
		return coll, nil
	}
	// one dial at a time; concurrent callers fail fast
	if s.connecting {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: connection attempt in progress", ErrStoreUnavailable)
	}
	s.connecting = true
	s.mu.Unlock()

	coll, err := s.connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if err != nil {
		log.WithError(err).Warn("Store connection failed")
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.coll = coll
	return coll, nil
}

// Insert appends one immutable record and returns the store-assigned id.
// Any id already set on record is discarded.
func (s *Store) Insert(ctx context.Context, record models.StoredRecord) (string, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return "", err
	}
	record.ID = primitive.NilObjectID

	start := time.Now()
	id, err := coll.InsertReading(ctx, record)
	metrics.ObserveStore(OpInsert, start, err)
	if err != nil {
		return "", &OperationError{Op: OpInsert, Err: err}
	}
	return id.Hex(), nil
}

// Query returns at most q.Limit records ordered by server_timestamp, newest first.
func (s *Store) Query(ctx context.Context, q Query) ([]models.StoredRecord, error) {
	if q.Limit < 1 {
		return nil, ErrInvalidLimit
	}
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	filter := bson.M{}
	if q.DeviceID != "" {
		filter["device_id"] = q.DeviceID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "server_timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(q.Limit))

	start := time.Now()
	records, err := find(ctx, coll, filter, opts)
	metrics.ObserveStore(OpQuery, start, err)
	if err != nil {
		return nil, &OperationError{Op: OpQuery, Err: err}
	}
	return records, nil
}

func find(ctx context.Context, coll ReadingCollection, filter bson.M, opts *options.FindOptions) ([]models.StoredRecord, error) {
	cursor, err := coll.FindReadings(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	records := make([]models.StoredRecord, 0)
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the connection if the collection supports it.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	closer, ok := s.coll.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	s.coll = nil
	return closer.Close(ctx)
}
