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
	"github.com/ukydev/greenroof-monitor/internal/db"
	"github.com/ukydev/greenroof-monitor/internal/handlers"
	"github.com/ukydev/greenroof-monitor/internal/ingest"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/middleware"
	"github.com/ukydev/greenroof-monitor/internal/mqtt"
)

// newRouter wires the API endpoints. The limiter guards writes only.
func newRouter(store *db.Store, svc *ingest.Service, limiter *middleware.RateLimitMiddleware, rl config.RateLimitConfig) http.Handler {
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

	h := handlers.NewSensorHandler(svc, store)
	h.Register(r, limiter.RateLimit(rl.Requests, rl.Window))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// startMQTT subscribes the ingestion service to the broker. The returned
// client is nil when the transport is disabled.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, svc *ingest.Service) (*mqtt.Client, error) {
	if !cfg.Enabled() {
		log.Info("MQTT_BROKER_URL not set, MQTT ingestion disabled")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg.BrokerURL, "greenroof-api", cfg.ClientID)
	if err != nil {
		return nil, err
	}
	handler := &ingest.MessageHandler{Service: svc}
	if err := client.Subscribe(cfg.Topic, func(m mqtt.Message) {
		handler.HandleMessage(ctx, m)
	}); err != nil {
		client.Close()
		return nil, err
	}
	log.WithFields(log.Fields{"broker": cfg.BrokerURL, "topic": cfg.Topic}).Info("MQTT ingestion subscribed")
	return client, nil
}

func pruneLoop(ctx context.Context, limiter *middleware.RateLimitMiddleware, window time.Duration) {
	tick := time.NewTicker(window)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := limiter.Prune(window); n > 0 {
				log.WithField("clients", n).Debug("Pruned rate limit entries")
			}
		}
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}
	cfg := config.Load()
	config.SetupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := db.NewStore(db.MongoConnector(cfg.Mongo))
	if !store.Configured() {
		log.Warn("MONGO_URI not set, readings cannot be stored or queried")
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.Timeout)
		if err := store.Connect(connectCtx); err != nil {
			log.WithError(err).Warn("Store not reachable at startup, will retry on first request")
		}
		cancel()
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	svc := ingest.NewService(store)

	mq, err := startMQTT(ctx, cfg.MQTT, svc)
	if err != nil {
		log.WithError(err).Error("MQTT ingestion unavailable")
	}
	defer mq.Close()

	limiter := middleware.NewRateLimitMiddleware()
	go pruneLoop(ctx, limiter, cfg.RateLimit.Window)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(store, svc, limiter, cfg.RateLimit),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", httpSrv.Addr).Info("HTTP server listening")
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
