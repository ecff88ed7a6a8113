// Package dashboard fetches stored readings for the dashboard, either
// straight from the store or through the query endpoint, and shapes them
// into snapshots.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/models"
)

const (
	ModeDirect = "direct"
	ModeRemote = "remote"
)

// Query narrows a fetch to one device and caps its size.
type Query struct {
	DeviceID string `json:"device_id,omitempty"`
	Limit    int    `json:"limit"`
}

// Source yields records newest first, in the query endpoint's JSON shape.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]models.Document, error)
}

// RecordQuerier is the store operation DirectSource needs.
type RecordQuerier interface {
	Query(ctx context.Context, q db.Query) ([]models.StoredRecord, error)
}

// DirectSource reads from an in-process store.
type DirectSource struct {
	store RecordQuerier
}

func NewDirectSource(store RecordQuerier) *DirectSource {
	return &DirectSource{store: store}
}

func (s *DirectSource) Name() string { return ModeDirect }

func (s *DirectSource) Fetch(ctx context.Context, q Query) ([]models.Document, error) {
	records, err := s.store.Query(ctx, db.Query{DeviceID: q.DeviceID, Limit: q.Limit})
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(records))
	for _, rec := range records {
		doc, err := models.ToDocument(rec)
		if err != nil {
			log.WithError(err).WithField("record_id", rec.ID.Hex()).Warn("Skipping unconvertible record")
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// RemoteFetchError reports a failed call to the query endpoint. StatusCode
// is zero when no response was received.
type RemoteFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RemoteFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

// RemoteSource calls GET /sensor-data on a running API.
type RemoteSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteSource(baseURL string, timeout time.Duration) *RemoteSource {
	return &RemoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *RemoteSource) Name() string { return ModeRemote }

func (s *RemoteSource) Fetch(ctx context.Context, q Query) ([]models.Document, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.DeviceID != "" {
		params.Set("device_id", q.DeviceID)
	}
	u := s.baseURL + "/sensor-data?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &RemoteFetchError{URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteFetchError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &RemoteFetchError{
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	var payload struct {
		Data []models.Document `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &RemoteFetchError{URL: u, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Data == nil {
		return []models.Document{}, nil
	}
	return payload.Data, nil
}
