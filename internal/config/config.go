// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/db"
)

type Config struct {
	Port      string
	Mongo     db.MongoConfig
	MQTT      MQTTConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Dashboard DashboardConfig
}

type MQTTConfig struct {
	BrokerURL string
	Topic     string
	ClientID  string
}

// Enabled reports whether the broker transport should be started.
func (m MQTTConfig) Enabled() bool {
	return m.BrokerURL != ""
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type DashboardConfig struct {
	Port           string
	UseAPI         bool
	APIURL         string
	APITimeout     time.Duration
	Refresh        time.Duration
	DefaultLimit   int
	DeviceSampling int
}

// LoadDotEnv reads a .env file into the environment. Variables already set
// win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load builds the configuration from the environment. Invalid values fall
// back to their defaults.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8000"),
		Mongo: db.MongoConfig{
			URI:        mongoURI(),
			Database:   getEnv("MONGO_DB", "greenroof"),
			Collection: getEnv("MONGO_COLLECTION", "sensor_readings"),
			Timeout:    getSeconds("MONGO_TIMEOUT_SECONDS", 10),
		},
		MQTT: MQTTConfig{
			BrokerURL: strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
			Topic:     getEnv("MQTT_TOPIC", "greenroof/+/readings"),
			ClientID:  strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID")),
		},
		RateLimit: RateLimitConfig{
			Requests: getIntMin("RATE_LIMIT_REQUESTS", 120, 0),
			Window:   getSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Dashboard: DashboardConfig{
			Port:           getEnv("DASHBOARD_PORT", "8501"),
			UseAPI:         parseBool(os.Getenv("USE_API")),
			APIURL:         strings.TrimRight(getEnv("API_URL", "http://127.0.0.1:8000"), "/"),
			APITimeout:     getSeconds("API_TIMEOUT_SECONDS", 10),
			Refresh:        getSeconds("DASHBOARD_REFRESH_SECONDS", 10),
			DefaultLimit:   getInt("DASHBOARD_DEFAULT_LIMIT", 100),
			DeviceSampling: getInt("DEVICE_SAMPLE_SIZE", 100),
		},
	}
}

// mongoURI resolves the store credential. MONGO_URI wins over
// MONGO_URI_FILE. An unset or unreadable reference leaves the store
// unconfigured.
func mongoURI() string {
	if uri := strings.TrimSpace(os.Getenv("MONGO_URI")); uri != "" {
		return uri
	}
	path := strings.TrimSpace(os.Getenv("MONGO_URI_FILE"))
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Cannot read MONGO_URI_FILE, store left unconfigured")
		return ""
	}
	return strings.TrimSpace(string(b))
}

// SetupLogging applies level and format to the standard logrus logger.
func SetupLogging(c LogConfig) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		log.WithField("level", c.Level).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	return getIntMin(k, def, 1)
}

// getIntMin reads an integer no smaller than min.
func getIntMin(k string, def, min int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		log.WithField(k, v).Warn("Invalid integer setting, using default")
		return def
	}
	return n
}

func getSeconds(k string, def int) time.Duration {
	return time.Duration(getInt(k, def)) * time.Second
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
