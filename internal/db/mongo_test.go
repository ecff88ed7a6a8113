package db

import (
    "context"
    "os"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/ukydev/greenroof-monitor/internal/models"
)

func TestConnectMongo_BadURI(t *testing.T) {
    client, err := ConnectMongo(context.Background(), "mongodb://bad:uri", time.Second)
    if err == nil {
        t.Error("expected error for bad URI, got nil")
    }
    if client != nil {
        t.Error("expected nil client on error")
    }
}

func TestMongoConnector_NoURI(t *testing.T) {
    if MongoConnector(MongoConfig{}) != nil {
        t.Error("expected nil connector when URI is empty")
    }
}

func TestInsertReading_NilCollection(t *testing.T) {
    coll := &MongoCollection{Collection: nil}
    _, err := coll.InsertReading(context.Background(), models.StoredRecord{})
    if err == nil {
        t.Error("expected error when collection is nil")
    }
    if _, err := coll.FindReadings(context.Background(), nil); err == nil {
        t.Error("expected error when collection is nil")
    }
}

// Integration test (requires running MongoDB)
func TestStore_Integration(t *testing.T) {
    uri := os.Getenv("MONGO_URI")
    if uri == "" || uri == "uri" {
        t.Skip("MONGO_URI not set or invalid, skipping integration test")
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
    defer cancel()

    client, err := ConnectMongo(ctx, uri, 10*time.Second)
    if err != nil {
        t.Skipf("failed to connect: %v, skipping integration test", err)
        return
    }
    coll := client.Database("test_greenroof").Collection("sensor_readings")
    _ = coll.Drop(ctx)
    mc := &MongoCollection{Collection: coll}
    require.NoError(t, mc.EnsureIndexes(ctx))
    store := NewStoreWithCollection(mc)
    defer store.Close(context.Background())

    base := time.Now().UTC().Truncate(time.Millisecond)
    for i, dev := range []string{"D1", "D2", "D1"} {
        rec := models.StoredRecord{
            DeviceID:        dev,
            DeviceTimestamp: base.Format(time.RFC3339),
            ServerTimestamp: base.Add(time.Duration(i) * time.Second),
        }
        rec.Channels.SoilMoisture.Raw = 2380 + i
        id, err := store.Insert(ctx, rec)
        require.NoError(t, err)
        assert.Len(t, id, 24)
    }

    got, err := store.Query(ctx, Query{DeviceID: "D1", Limit: 10})
    require.NoError(t, err)
    require.Len(t, got, 2)
    assert.Equal(t, 2382, got[0].Channels.SoilMoisture.Raw)
    assert.True(t, got[0].ServerTimestamp.After(got[1].ServerTimestamp))

    got, err = store.Query(ctx, Query{Limit: 1})
    require.NoError(t, err)
    require.Len(t, got, 1)
    assert.True(t, got[0].ServerTimestamp.Equal(base.Add(2*time.Second)))
}
