package dashboard

import (
	"context"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"github.com/ukydev/greenroof-monitor/internal/tabulate"
)

const DefaultSampleSize = 100

// Result is a best-effort fetch: on failure Docs is empty and Warnings
// says why.
type Result struct {
	Docs     []models.Document
	Warnings []string
}

// Snapshot is everything the chart layer draws for one query.
type Snapshot struct {
	Mode      string               `json:"mode"`
	Query     Query                `json:"query"`
	Rows      []tabulate.Row       `json:"rows"`
	Stats     tabulate.Summary     `json:"stats"`
	Latest    *tabulate.Latest     `json:"latest"`
	Panels    []tabulate.PanelData `json:"panels"`
	Span      string               `json:"span"`
	Warnings  []string             `json:"warnings"`
	FetchedAt time.Time            `json:"fetched_at"`
}

// Table returns the snapshot rows as a table.
func (s Snapshot) Table() tabulate.Table {
	return tabulate.Table{Rows: s.Rows}
}

type Options struct {
	SampleSize int
	CacheTTL   time.Duration
}

// Fetcher sits between the dashboard endpoints and a Source. It never
// returns an error: failures become warnings next to an empty result.
type Fetcher struct {
	source     Source
	sampleSize int
	cache      *Cache
	now        func() time.Time
}

func NewFetcher(source Source, opts Options) *Fetcher {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}
	return &Fetcher{
		source:     source,
		sampleSize: opts.SampleSize,
		cache:      NewCache(opts.CacheTTL),
		now:        time.Now,
	}
}

// Mode names the configured source.
func (f *Fetcher) Mode() string {
	return f.source.Name()
}

// Records fetches newest-first documents for q.
func (f *Fetcher) Records(ctx context.Context, q Query) Result {
	docs, err := f.source.Fetch(ctx, q)
	metrics.DashboardFetches.WithLabelValues(f.source.Name(), metrics.Result(err)).Inc()
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"mode":      f.source.Name(),
			"device_id": q.DeviceID,
			"limit":     q.Limit,
		}).Warn("Dashboard fetch failed")
		return Result{Docs: []models.Document{}, Warnings: []string{err.Error()}}
	}
	return Result{Docs: docs, Warnings: []string{}}
}

// DeviceIDs lists the distinct devices seen in the most recent records.
// Devices that have been silent longer than the sample reaches back are
// not listed.
func (f *Fetcher) DeviceIDs(ctx context.Context) ([]string, []string) {
	res := f.Records(ctx, Query{Limit: f.sampleSize})
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, doc := range res.Docs {
		id, ok := doc.String("device_id")
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, res.Warnings
}

// Snapshot fetches and tabulates q, serving from cache while fresh.
// Snapshots carrying warnings are not cached.
func (f *Fetcher) Snapshot(ctx context.Context, q Query) Snapshot {
	if snap, ok := f.cache.Get(q); ok {
		return snap
	}

	res := f.Records(ctx, q)
	table := tabulate.Build(res.Docs)
	snap := Snapshot{
		Mode:      f.source.Name(),
		Query:     q,
		Rows:      table.Rows,
		Stats:     tabulate.Summarize(table),
		Panels:    tabulate.BuildPanels(table),
		Span:      table.Span().String(),
		Warnings:  res.Warnings,
		FetchedAt: f.now().UTC(),
	}
	if latest, ok := tabulate.LatestReading(table); ok {
		snap.Latest = &latest
	}
	if len(res.Docs) == 0 && len(res.Warnings) == 0 {
		snap.Warnings = append(snap.Warnings, "no readings found for the selected filters")
	}

	if len(res.Warnings) == 0 {
		f.cache.Set(q, snap)
	}
	return snap
}

// Refresh drops cached snapshots so the next request refetches.
func (f *Fetcher) Refresh() int {
	return f.cache.Clear()
}
