package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/config"
	"github.com/ukydev/greenroof-monitor/internal/dashboard"
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/middleware"
)

// newSource picks the data path once for the life of the process. The
// returned store is nil in remote mode.
func newSource(cfg config.Config) (dashboard.Source, *db.Store) {
	if cfg.Dashboard.UseAPI {
		log.WithField("api_url", cfg.Dashboard.APIURL).Info("Dashboard reading through the query endpoint")
		return dashboard.NewRemoteSource(cfg.Dashboard.APIURL, cfg.Dashboard.APITimeout), nil
	}
	store := db.NewStore(db.MongoConnector(cfg.Mongo))
	if !store.Configured() {
		log.Warn("MONGO_URI not set and USE_API off, dashboard will show no data")
	}
	log.Info("Dashboard reading directly from the store")
	return dashboard.NewDirectSource(store), store
}

func newRouter(fetcher *dashboard.Fetcher, defaultLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	dashboard.NewServer(fetcher, defaultLimit).Register(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}
	cfg := config.Load()
	config.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, store := newSource(*cfg)
	if store != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = store.Close(closeCtx)
		}()
	}

	fetcher := dashboard.NewFetcher(source, dashboard.Options{
		SampleSize: cfg.Dashboard.DeviceSampling,
		CacheTTL:   cfg.Dashboard.Refresh,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Dashboard.Port,
		Handler:           newRouter(fetcher, cfg.Dashboard.DefaultLimit),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{"addr": httpSrv.Addr, "mode": fetcher.Mode()}).Info("Dashboard listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
}
