// Package ingest turns raw device submissions into stored records.
package ingest

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"github.com/ukydev/greenroof-monitor/internal/schema"
)

// Inserter is the part of the store the ingestion path needs.
type Inserter interface {
	Insert(ctx context.Context, record models.StoredRecord) (string, error)
}

// Service validates, stamps and persists submissions. It keeps no state
// between calls.
type Service struct {
	store Inserter
	now   func() time.Time
}

// NewService creates an ingestion service writing to store.
func NewService(store Inserter) *Service {
	return &Service{store: store, now: time.Now}
}

// Submit validates raw and writes it. Errors are either a
// *schema.ValidationError, in which case nothing was written, or whatever
// the store returned. Submissions are never retried here.
func (s *Service) Submit(ctx context.Context, raw []byte) (models.Confirmation, error) {
	reading, err := schema.Validate(raw)
	if err != nil {
		return models.Confirmation{}, err
	}

	record := models.NewStoredRecord(reading, s.now())
	id, err := s.store.Insert(ctx, record)
	if err != nil {
		return models.Confirmation{}, err
	}

	log.WithFields(log.Fields{
		"device_id": record.DeviceID,
		"record_id": id,
	}).Debug("Stored reading")

	return models.Confirmation{
		DeviceID:        record.DeviceID,
		RecordID:        id,
		ServerTimestamp: record.ServerTimestamp,
		Status:          "success",
	}, nil
}

// Outcome labels a Submit error for metrics.
func Outcome(err error) string {
	var verr *schema.ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, db.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
