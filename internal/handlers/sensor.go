package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/ingest"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"github.com/ukydev/greenroof-monitor/internal/schema"
)

const (
	DefaultQueryLimit = 10
	maxBodyBytes      = 1 << 20
	serviceName       = "greenroof-monitor"
)

// Submitter accepts raw readings.
type Submitter interface {
	Submit(ctx context.Context, raw []byte) (models.Confirmation, error)
}

// ReadingStore is the read side of the store plus its connection state.
type ReadingStore interface {
	Configured() bool
	Connected() bool
	Query(ctx context.Context, q db.Query) ([]models.StoredRecord, error)
}

// SensorHandler serves the ingestion and query endpoints
type SensorHandler struct {
	submitter Submitter
	store     ReadingStore
	now       func() time.Time
}

// NewSensorHandler creates a new sensor data handler
func NewSensorHandler(submitter Submitter, store ReadingStore) *SensorHandler {
	return &SensorHandler{
		submitter: submitter,
		store:     store,
		now:       time.Now,
	}
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Status  string              `json:"status"`
	Error   string              `json:"error"`
	Details []schema.FieldError `json:"details,omitempty"`
}

// QueryResponse is the body of GET /sensor-data.
type QueryResponse struct {
	Total          int                   `json:"total"`
	Limit          int                   `json:"limit"`
	DeviceIDFilter *string               `json:"device_id_filter"`
	Data           []models.StoredRecord `json:"data"`
	Status         string                `json:"status"`
}

// HealthResponse is the body of GET /.
type HealthResponse struct {
	Service         string            `json:"service"`
	StoreConfigured bool              `json:"store_configured"`
	StoreConnected  bool              `json:"store_connected"`
	ServerTime      time.Time         `json:"server_time"`
	Operations      map[string]string `json:"operations"`
}

// Register mounts the endpoints on r. writeMiddleware wraps only the
// ingestion route.
func (h *SensorHandler) Register(r chi.Router, writeMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/", h.Health)
	r.Get("/sensor-data", h.Query)
	r.With(writeMiddleware...).Post("/sensor-data", h.Ingest)
}

// Health reports liveness and store state
func (h *SensorHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Service:         serviceName,
		StoreConfigured: h.store.Configured(),
		StoreConnected:  h.store.Connected(),
		ServerTime:      h.now().UTC(),
		Operations: map[string]string{
			"submit_reading": "POST /sensor-data",
			"query_readings": "GET /sensor-data",
			"metrics":        "GET /metrics",
		},
	})
}

// Ingest handles a device submission
func (h *SensorHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.ReadingsIngested.WithLabelValues("http", "invalid").Inc()
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, ErrorResponse{Status: "error", Error: "Failed to read request body"})
		return
	}

	conf, err := h.submitter.Submit(r.Context(), body)
	metrics.ReadingsIngested.WithLabelValues("http", ingest.Outcome(err)).Inc()
	if err != nil {
		h.writeStoreError(w, r, err, "Failed to store reading")
		return
	}

	log.WithFields(log.Fields{
		"device_id": conf.DeviceID,
		"record_id": conf.RecordID,
	}).Info("Received reading")
	writeJSON(w, http.StatusOK, conf)
}

// Query returns the newest stored readings
func (h *SensorHandler) Query(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: "error", Error: err.Error()})
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))

	records, err := h.store.Query(r.Context(), db.Query{DeviceID: deviceID, Limit: limit})
	if err != nil {
		h.writeStoreError(w, r, err, "Failed to query readings")
		return
	}

	resp := QueryResponse{
		Total:  len(records),
		Limit:  limit,
		Data:   records,
		Status: "success",
	}
	if deviceID != "" {
		resp.DeviceIDFilter = &deviceID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SensorHandler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		log.WithField("fields", verr.Fields).Info("Rejected invalid reading")
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Status:  "error",
			Error:   "Invalid reading",
			Details: verr.Fields,
		})
	case errors.Is(err, db.ErrStoreUnavailable):
		log.WithError(err).WithField("path", r.URL.Path).Warn("Store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Status: "error", Error: "Store unavailable"})
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error(msg)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Status: "error", Error: msg})
	}
}

// parseLimit accepts an empty value (default) or an integer >= 1.
func parseLimit(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultQueryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, db.ErrInvalidLimit
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
