package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/db/dbtest"
	"github.com/ukydev/greenroof-monitor/internal/handlers"
	"github.com/ukydev/greenroof-monitor/internal/ingest"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"github.com/ukydev/greenroof-monitor/internal/tabulate"
)

var base = time.Date(2025, 11, 12, 17, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *db.Store {
	t.Helper()
	store, coll := dbtest.NewMemoryStore()
	for i, dev := range []string{"D2", "D1", "D1", "D3", "D1"} {
		rec := dbtest.Record(dev, base.Add(time.Duration(i)*time.Minute))
		rec.Channels.SoilMoisture.Raw = 2380 + i
		coll.Seed(rec)
	}
	return store
}

// apiServer runs the real query endpoint over store.
func apiServer(t *testing.T, store *db.Store) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	handlers.NewSensorHandler(ingest.NewService(store), store).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type stubSource struct {
	docs  []models.Document
	err   error
	calls int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(context.Context, Query) ([]models.Document, error) {
	s.calls++
	return s.docs, s.err
}

func TestDirectSource_Fetch(t *testing.T) {
	src := NewDirectSource(seededStore(t))
	docs, err := src.Fetch(context.Background(), Query{DeviceID: "D1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	id, _ := docs[0].String("device_id")
	assert.Equal(t, "D1", id)
	recordID, _ := docs[0].String("record_id")
	assert.Len(t, recordID, 24)

	sm, _ := docs[0].Object("channels")
	moisture, _ := sm.Object("soil_moisture")
	raw, ok := moisture.Float("raw")
	require.True(t, ok)
	assert.Equal(t, 2384.0, raw)
}

func TestDirectSource_Unconfigured(t *testing.T) {
	_, err := NewDirectSource(db.NewStore(nil)).Fetch(context.Background(), Query{Limit: 10})
	assert.ErrorIs(t, err, db.ErrStoreUnavailable)
}

func TestRemoteSource_MatchesDirect(t *testing.T) {
	store := seededStore(t)
	srv := apiServer(t, store)

	q := Query{DeviceID: "D1", Limit: 10}
	remote, err := NewRemoteSource(srv.URL+"/", 5*time.Second).Fetch(context.Background(), q)
	require.NoError(t, err)
	direct, err := NewDirectSource(store).Fetch(context.Background(), q)
	require.NoError(t, err)

	remoteTable := tabulate.Build(remote)
	directTable := tabulate.Build(direct)
	require.Equal(t, directTable.Len(), remoteTable.Len())
	assert.Equal(t, tabulate.Summarize(directTable), tabulate.Summarize(remoteTable))
	for i := range directTable.Rows {
		assert.Equal(t, directTable.Rows[i].RecordID, remoteTable.Rows[i].RecordID)
	}
}

func TestRemoteSource_Errors(t *testing.T) {
	t.Run("unconfigured api", func(t *testing.T) {
		srv := apiServer(t, db.NewStore(nil))
		_, err := NewRemoteSource(srv.URL, time.Second).Fetch(context.Background(), Query{Limit: 5})

		var rerr *RemoteFetchError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
		assert.True(t, strings.HasPrefix(rerr.URL, srv.URL+"/sensor-data?"))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": [`))
		}))
		defer srv.Close()

		_, err := NewRemoteSource(srv.URL, time.Second).Fetch(context.Background(), Query{Limit: 5})
		var rerr *RemoteFetchError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, http.StatusOK, rerr.StatusCode)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := NewRemoteSource(srv.URL, 50*time.Millisecond).Fetch(context.Background(), Query{Limit: 5})
		var rerr *RemoteFetchError
		require.True(t, errors.As(err, &rerr))
		assert.Zero(t, rerr.StatusCode)
	})

	t.Run("missing data key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": "success"}`))
		}))
		defer srv.Close()

		docs, err := NewRemoteSource(srv.URL, time.Second).Fetch(context.Background(), Query{Limit: 5})
		require.NoError(t, err)
		assert.NotNil(t, docs)
		assert.Empty(t, docs)
	})
}

func TestFetcher_RecordsDowngradesErrors(t *testing.T) {
	f := NewFetcher(&stubSource{err: errors.New("connection refused")}, Options{})
	res := f.Records(context.Background(), Query{Limit: 10})
	assert.NotNil(t, res.Docs)
	assert.Empty(t, res.Docs)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "connection refused")
}

func TestFetcher_DeviceIDs(t *testing.T) {
	f := NewFetcher(NewDirectSource(seededStore(t)), Options{SampleSize: 100})
	ids, warnings := f.DeviceIDs(context.Background())
	assert.Equal(t, []string{"D1", "D2", "D3"}, ids)
	assert.Empty(t, warnings)

	// only the newest two records are sampled
	f = NewFetcher(NewDirectSource(seededStore(t)), Options{SampleSize: 2})
	ids, _ = f.DeviceIDs(context.Background())
	assert.Equal(t, []string{"D1", "D3"}, ids)

	f = NewFetcher(NewDirectSource(db.NewStore(nil)), Options{})
	ids, warnings = f.DeviceIDs(context.Background())
	assert.Empty(t, ids)
	assert.NotEmpty(t, warnings)
}

func TestFetcher_Snapshot(t *testing.T) {
	f := NewFetcher(NewDirectSource(seededStore(t)), Options{CacheTTL: time.Minute})
	snap := f.Snapshot(context.Background(), Query{DeviceID: "D1", Limit: 10})

	assert.Equal(t, ModeDirect, snap.Mode)
	require.Len(t, snap.Rows, 3)
	assert.True(t, snap.Rows[0].Time.Before(snap.Rows[2].Time))
	require.NotNil(t, snap.Latest)
	assert.Equal(t, 2384.0, *snap.Latest.Values[tabulate.SoilMoistureRaw])
	assert.Equal(t, 3, snap.Stats[tabulate.SoilMoistureRaw].Count)
	assert.Len(t, snap.Panels, len(tabulate.Panels))
	assert.Empty(t, snap.Warnings)
}

func TestFetcher_SnapshotCache(t *testing.T) {
	src := &stubSource{docs: []models.Document{}}
	f := NewFetcher(src, Options{CacheTTL: time.Minute})
	q := Query{Limit: 10}

	first := f.Snapshot(context.Background(), q)
	f.Snapshot(context.Background(), q)
	assert.Equal(t, 1, src.calls)
	assert.Contains(t, first.Warnings, "no readings found for the selected filters")

	assert.Equal(t, 1, f.Refresh())
	f.Snapshot(context.Background(), q)
	assert.Equal(t, 2, src.calls)

	// failures are refetched on the next request
	src.err = errors.New("down")
	f.Refresh()
	f.Snapshot(context.Background(), q)
	f.Snapshot(context.Background(), q)
	assert.Equal(t, 4, src.calls)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Minute)
	now := base
	c.now = func() time.Time { return now }

	c.Set(Query{Limit: 1}, Snapshot{Mode: "x"})
	_, ok := c.Get(Query{Limit: 1})
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(Query{Limit: 1})
	assert.False(t, ok)

	disabled := NewCache(0)
	disabled.Set(Query{Limit: 1}, Snapshot{})
	_, ok = disabled.Get(Query{Limit: 1})
	assert.False(t, ok)
}

func TestCache_SetEvictsExpired(t *testing.T) {
	c := NewCache(time.Minute)
	now := base
	c.now = func() time.Time { return now }

	for i := 1; i <= 50; i++ {
		c.Set(Query{DeviceID: "D1", Limit: i}, Snapshot{})
	}
	assert.Len(t, c.items, 50)

	now = now.Add(2 * time.Minute)
	c.Set(Query{Limit: 1}, Snapshot{})
	assert.Len(t, c.items, 1)
	_, ok := c.Get(Query{Limit: 1})
	assert.True(t, ok)
}

func dashboardRouter(f *Fetcher) http.Handler {
	r := chi.NewRouter()
	NewServer(f, 100).Register(r)
	return r
}

func TestServer_Endpoints(t *testing.T) {
	router := dashboardRouter(NewFetcher(NewDirectSource(seededStore(t)), Options{CacheTTL: time.Minute}))

	t.Run("devices", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/devices", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"device_ids":["D1","D2","D3"],"warnings":[]}`, w.Body.String())
	})

	t.Run("snapshot", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot?device_id=D2", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var snap Snapshot
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		assert.Equal(t, Query{DeviceID: "D2", Limit: 100}, snap.Query)
		assert.Len(t, snap.Rows, 1)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot?limit=zero", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("csv export", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/export.csv?device_id=D1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), "readings-D1.csv")
		lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
		assert.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[0], "time,time_source,device_id,record_id"))
	})

	t.Run("refresh", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/refresh", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"dropped"`)
	})
}

func TestServer_FetchFailureStillOK(t *testing.T) {
	router := dashboardRouter(NewFetcher(NewDirectSource(db.NewStore(nil)), Options{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Empty(t, snap.Rows)
	assert.Nil(t, snap.Latest)
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "store unavailable")
}
