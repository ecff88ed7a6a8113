// Package dbtest provides an in-memory ReadingCollection for tests.
package dbtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MemoryCollection keeps records in a slice and answers the one query shape
// the Store issues: optional device_id equality, newest server_timestamp
// first, optional limit.
type MemoryCollection struct {
	mu      sync.Mutex
	records []models.StoredRecord

	InsertErr error
	FindErr   error
}

// NewMemoryStore returns a connected Store backed by a fresh MemoryCollection.
func NewMemoryStore() (*db.Store, *MemoryCollection) {
	coll := &MemoryCollection{}
	return db.NewStoreWithCollection(coll), coll
}

func (m *MemoryCollection) InsertReading(_ context.Context, record models.StoredRecord) (primitive.ObjectID, error) {
	if m.InsertErr != nil {
		return primitive.NilObjectID, m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = primitive.NewObjectID()
	m.records = append(m.records, record)
	return record.ID, nil
}

func (m *MemoryCollection) FindReadings(_ context.Context, filter interface{}, opts ...*options.FindOptions) (db.ReadingCursor, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	deviceID := ""
	if f, ok := filter.(bson.M); ok {
		if v, ok := f["device_id"].(string); ok {
			deviceID = v
		}
	}

	m.mu.Lock()
	out := make([]models.StoredRecord, 0, len(m.records))
	for _, r := range m.records {
		if deviceID == "" || r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ServerTimestamp.Equal(out[j].ServerTimestamp) {
			return out[i].ServerTimestamp.After(out[j].ServerTimestamp)
		}
		return out[i].ID.Hex() > out[j].ID.Hex()
	})

	for _, o := range opts {
		if o != nil && o.Limit != nil && *o.Limit > 0 && int(*o.Limit) < len(out) {
			out = out[:*o.Limit]
		}
	}
	return &memoryCursor{records: out}, nil
}

// Records returns a copy of everything inserted so far, in insertion order.
func (m *MemoryCollection) Records() []models.StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StoredRecord(nil), m.records...)
}

// Seed inserts records as-is, keeping any id already set.
func (m *MemoryCollection) Seed(records ...models.StoredRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID.IsZero() {
			r.ID = primitive.NewObjectID()
		}
		m.records = append(m.records, r)
	}
}

// Record builds a complete stored record with the reference channel values
// used across tests.
func Record(deviceID string, serverTime time.Time) models.StoredRecord {
	r := models.Reading{
		DeviceID:        deviceID,
		DeviceTimestamp: serverTime.Format("2006-01-02T15:04:05"),
	}
	r.Channels.SoilTemperature.Value = 22.3
	r.Channels.Air.Temperature = 25.8
	r.Channels.Air.Humidity = 72.3
	r.Channels.WaterLevel.Distance = 15.7
	r.Channels.SoilMoisture.Value = 68.4
	r.Channels.SoilMoisture.Raw = 2380
	r.ApplyDefaults()
	return models.NewStoredRecord(r, serverTime)
}

type memoryCursor struct {
	records []models.StoredRecord
}

func (c *memoryCursor) All(_ context.Context, out interface{}) error {
	p, ok := out.(*[]models.StoredRecord)
	if !ok {
		return fmt.Errorf("unsupported result type %T", out)
	}
	*p = append((*p)[:0], c.records...)
	return nil
}

func (c *memoryCursor) Close(context.Context) error {
	return nil
}
