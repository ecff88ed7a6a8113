package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/tabulate"
)

type Server struct {
	fetcher      *Fetcher
	defaultLimit int
}

func NewServer(fetcher *Fetcher, defaultLimit int) *Server {
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return &Server{fetcher: fetcher, defaultLimit: defaultLimit}
}

// Register mounts the dashboard endpoints on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/export.csv", s.handleExport)
		r.Post("/refresh", s.handleRefresh)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": s.fetcher.Mode()})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ids, warnings := s.fetcher.DeviceIDs(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_ids": ids,
		"warnings":   warnings,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.fetcher.Snapshot(r.Context(), q))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	snap := s.fetcher.Snapshot(r.Context(), q)

	name := "readings"
	if q.DeviceID != "" {
		name += "-" + sanitizeFilename(q.DeviceID)
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, name))
	if len(snap.Warnings) > 0 {
		w.Header().Set("X-Dashboard-Warnings", strings.Join(snap.Warnings, "; "))
	}
	if err := tabulate.WriteCSV(w, snap.Table()); err != nil {
		log.WithError(err).Error("Failed to write CSV export")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n := s.fetcher.Refresh()
	log.WithField("dropped", n).Info("Dashboard cache cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "dropped": n})
}

func (s *Server) parseQuery(r *http.Request) (Query, error) {
	q := Query{
		DeviceID: strings.TrimSpace(r.URL.Query().Get("device_id")),
		Limit:    s.defaultLimit,
	}
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Query{}, fmt.Errorf("limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
