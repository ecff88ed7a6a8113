package main

import (
    "bytes"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/ukydev/greenroof-monitor/internal/config"
    "github.com/ukydev/greenroof-monitor/internal/db"
    "github.com/ukydev/greenroof-monitor/internal/db/dbtest"
    "github.com/ukydev/greenroof-monitor/internal/ingest"
    "github.com/ukydev/greenroof-monitor/internal/middleware"
)

const reading = `{"device_id":"ESP32_001","device_timestamp":"2025-11-12T14:30:00",
"channels":{"soil_temperature":{"value":22.3},"air":{"temperature":25.8,"humidity":72.3},
"water_level":{"distance":15.7},"soil_moisture":{"value":68.4,"raw":2380}}}`

func testRouter(store *db.Store, requests int) http.Handler {
    return newRouter(store, ingest.NewService(store), middleware.NewRateLimitMiddleware(),
        config.RateLimitConfig{Requests: requests, Window: time.Minute})
}

func TestRouter_PostThenGet(t *testing.T) {
    store, _ := dbtest.NewMemoryStore()
    router := testRouter(store, 10)

    req := httptest.NewRequest(http.MethodPost, "/sensor-data", bytes.NewBufferString(reading))
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)
    if w.Code != http.StatusOK {
        t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
    }

    w = httptest.NewRecorder()
    router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sensor-data?device_id=ESP32_001", nil))
    if w.Code != http.StatusOK {
        t.Fatalf("expected 200, got %d", w.Code)
    }
    if !strings.Contains(w.Body.String(), `"raw":2380`) {
        t.Errorf("expected stored reading in response, got %s", w.Body.String())
    }
}

func TestRouter_InvalidJSON(t *testing.T) {
    store, _ := dbtest.NewMemoryStore()
    req := httptest.NewRequest(http.MethodPost, "/sensor-data", bytes.NewBufferString("{bad json"))
    w := httptest.NewRecorder()
    testRouter(store, 10).ServeHTTP(w, req)
    if w.Code != http.StatusUnprocessableEntity {
        t.Errorf("expected 422, got %d", w.Code)
    }
}

func TestRouter_Unconfigured(t *testing.T) {
    router := testRouter(db.NewStore(nil), 10)

    w := httptest.NewRecorder()
    router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sensor-data", bytes.NewBufferString(reading)))
    if w.Code != http.StatusServiceUnavailable {
        t.Errorf("expected 503 on POST, got %d", w.Code)
    }

    w = httptest.NewRecorder()
    router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sensor-data", nil))
    if w.Code != http.StatusServiceUnavailable {
        t.Errorf("expected 503 on GET, got %d", w.Code)
    }
}

func TestRouter_RateLimitsWritesOnly(t *testing.T) {
    store, _ := dbtest.NewMemoryStore()
    router := testRouter(store, 1)

    for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
        req := httptest.NewRequest(http.MethodPost, "/sensor-data", bytes.NewBufferString(reading))
        req.RemoteAddr = "10.1.1.1:1234"
        w := httptest.NewRecorder()
        router.ServeHTTP(w, req)
        if w.Code != want {
            t.Errorf("request %d: expected %d, got %d", i, want, w.Code)
        }
    }

    req := httptest.NewRequest(http.MethodGet, "/sensor-data", nil)
    req.RemoteAddr = "10.1.1.1:1234"
    w := httptest.NewRecorder()
    router.ServeHTTP(w, req)
    if w.Code != http.StatusOK {
        t.Errorf("expected reads to bypass the limiter, got %d", w.Code)
    }
}

func TestRouter_Metrics(t *testing.T) {
    store, _ := dbtest.NewMemoryStore()
    router := testRouter(store, 10)
    router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

    w := httptest.NewRecorder()
    router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    if w.Code != http.StatusOK {
        t.Fatalf("expected 200, got %d", w.Code)
    }
    if !strings.Contains(w.Body.String(), "greenroof_http_requests_total") {
        t.Error("expected request counter in exposition")
    }
}

func TestStartMQTT_Disabled(t *testing.T) {
    store, _ := dbtest.NewMemoryStore()
    client, err := startMQTT(t.Context(), config.MQTTConfig{}, ingest.NewService(store))
    if err != nil || client != nil {
        t.Errorf("expected disabled transport, got client=%v err=%v", client, err)
    }
}
