package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/config"
	"github.com/ukydev/greenroof-monitor/internal/models"
	"github.com/ukydev/greenroof-monitor/internal/mqtt"
)

// channelValues is one point of a weather scenario.
type channelValues struct {
	SoilTemp     float64
	AirTemp      float64
	AirHumidity  float64
	Distance     float64
	SoilMoisture float64
	Raw          int
}

// Scenario drifts every channel linearly from Start to End.
type Scenario struct {
	Name  string
	Start channelValues
	End   channelValues
}

const stepsPerScenario = 10

var scenarios = []Scenario{
	{
		// wet soil, mild temperatures, full reservoir
		Name:  "after_rain",
		Start: channelValues{22.3, 25.8, 72.3, 15.7, 68.4, 2380},
		End:   channelValues{24.6, 28.7, 64.5, 18.4, 59.7, 2150},
	},
	{
		// dry soil, high temperatures, reservoir emptying
		Name:  "dry_period",
		Start: channelValues{25.3, 29.5, 58.2, 22.1, 48.3, 1820},
		End:   channelValues{30.5, 36.7, 35.3, 35.1, 25.2, 1190},
	},
	{
		// rain returning, soil recovering
		Name:  "transition",
		Start: channelValues{29.8, 35.2, 38.7, 33.5, 28.4, 1240},
		End:   channelValues{21.2, 23.4, 79.5, 13.2, 73.1, 2510},
	},
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// scenarioAt returns the scenario active at step and the interpolated values.
func scenarioAt(step int) (Scenario, channelValues) {
	s := scenarios[(step/stepsPerScenario)%len(scenarios)]
	t := float64(step%stepsPerScenario) / float64(stepsPerScenario-1)
	return s, channelValues{
		SoilTemp:     lerp(s.Start.SoilTemp, s.End.SoilTemp, t),
		AirTemp:      lerp(s.Start.AirTemp, s.End.AirTemp, t),
		AirHumidity:  lerp(s.Start.AirHumidity, s.End.AirHumidity, t),
		Distance:     lerp(s.Start.Distance, s.End.Distance, t),
		SoilMoisture: lerp(s.Start.SoilMoisture, s.End.SoilMoisture, t),
		Raw:          int(math.Round(lerp(float64(s.Start.Raw), float64(s.End.Raw), t))),
	}
}

// jitter adds uniform noise in [-amount, amount].
func jitter(v, amount float64, rng *rand.Rand) float64 {
	if rng == nil {
		return v
	}
	return v + (rng.Float64()*2-1)*amount
}

func soilMoistureStatus(pct float64) models.Status {
	if pct < 30 {
		return models.StatusWarning
	}
	return models.StatusOK
}

func waterLevelStatus(distanceCM float64) models.Status {
	if distanceCM > 30 {
		return models.StatusWarning
	}
	return models.StatusOK
}

// readingAt builds the submission for step. A nil rng gives the exact
// scenario values.
func readingAt(deviceID string, step int, now time.Time, rng *rand.Rand) models.Reading {
	_, v := scenarioAt(step)
	var r models.Reading
	r.DeviceID = deviceID
	r.DeviceTimestamp = now.UTC().Format(time.RFC3339)

	r.Channels.SoilTemperature.Value = round1(jitter(v.SoilTemp, 0.2, rng))
	r.Channels.SoilTemperature.Status = models.StatusOK
	r.Channels.Air.Temperature = round1(jitter(v.AirTemp, 0.3, rng))
	r.Channels.Air.Humidity = round1(jitter(v.AirHumidity, 0.5, rng))
	r.Channels.Air.Status = models.StatusOK
	r.Channels.WaterLevel.Distance = round1(jitter(v.Distance, 0.2, rng))
	r.Channels.WaterLevel.Status = waterLevelStatus(r.Channels.WaterLevel.Distance)
	r.Channels.SoilMoisture.Value = round1(jitter(v.SoilMoisture, 0.5, rng))
	r.Channels.SoilMoisture.Raw = v.Raw
	r.Channels.SoilMoisture.Status = soilMoistureStatus(r.Channels.SoilMoisture.Value)
	r.ApplyDefaults()
	return r
}

// Publisher delivers one reading to the API.
type Publisher interface {
	Publish(ctx context.Context, r models.Reading) error
}

type httpPublisher struct {
	apiURL string
	client *http.Client
}

func newHTTPPublisher(apiURL string) *httpPublisher {
	return &httpPublisher{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *httpPublisher) Publish(ctx context.Context, r models.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/sensor-data", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reading rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var conf models.Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return fmt.Errorf("failed to decode confirmation: %w", err)
	}
	log.WithFields(log.Fields{
		"device_id": conf.DeviceID,
		"record_id": conf.RecordID,
	}).Info("Sent reading")
	return nil
}

type mqttPublisher struct {
	client *mqtt.Client
	topic  string
}

// readingTopic fills the single-level wildcard of the subscription filter
// with the device id.
func readingTopic(filter, deviceID string) string {
	return strings.ReplaceAll(filter, "+", deviceID)
}

func (p *mqttPublisher) Publish(_ context.Context, r models.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := p.client.Publish(p.topic, data); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}
	log.WithFields(log.Fields{"device_id": r.DeviceID, "topic": p.topic}).Info("Published reading")
	return nil
}

// queryRecent prints the newest stored readings, the way an operator would
// check a demo run.
func queryRecent(ctx context.Context, apiURL, deviceID string, limit int) (int, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("device_id", deviceID)
	u := strings.TrimRight(apiURL, "/") + "/sensor-data?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("query failed with status %d", resp.StatusCode)
	}

	var result struct {
		Total int                   `json:"total"`
		Data  []models.StoredRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode query response: %w", err)
	}
	for _, rec := range result.Data {
		log.WithFields(log.Fields{
			"record_id":        rec.ID.Hex(),
			"server_timestamp": rec.ServerTimestamp,
			"soil_temperature": rec.Channels.SoilTemperature.Value,
			"air_temperature":  rec.Channels.Air.Temperature,
			"air_humidity":     rec.Channels.Air.Humidity,
			"soil_moisture":    rec.Channels.SoilMoisture.Value,
		}).Info("Stored reading")
	}
	return result.Total, nil
}

// run publishes readings every interval. A positive count stops after that
// many readings; zero runs until ctx is done.
func run(ctx context.Context, pub Publisher, deviceID string, count int, interval time.Duration, rng *rand.Rand) (sent int) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for step := 0; count <= 0 || step < count; step++ {
		scenario, _ := scenarioAt(step)
		r := readingAt(deviceID, step, time.Now(), rng)
		if err := pub.Publish(ctx, r); err != nil {
			log.WithError(err).WithField("scenario", scenario.Name).Error("Failed to deliver reading")
		} else {
			sent++
		}
		if count > 0 && step == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return sent
		case <-tick.C:
		}
	}
	return sent
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Failed to load .env file")
	}

	apiURL := envString("API_BASE_URL", "http://localhost:8000")
	deviceID := envString("SIM_DEVICE_ID", "ESP32_GREENROOF")
	transport := strings.ToLower(envString("SIM_TRANSPORT", "http"))
	count := envInt("SIM_COUNT", 0)
	interval := time.Duration(envInt("SIM_TICK_SECONDS", 2)) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub Publisher
	switch transport {
	case "mqtt":
		broker := envString("MQTT_BROKER_URL", "tcp://localhost:1883")
		client, err := mqtt.Connect(broker, "greenroof-sim", "")
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer client.Close()
		topic := readingTopic(envString("MQTT_TOPIC", "greenroof/+/readings"), deviceID)
		pub = &mqttPublisher{client: client, topic: topic}
	default:
		pub = newHTTPPublisher(apiURL)
	}

	log.WithFields(log.Fields{
		"api_url":   apiURL,
		"device_id": deviceID,
		"transport": transport,
		"count":     count,
		"interval":  interval,
	}).Info("Starting green roof simulation")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sent := run(ctx, pub, deviceID, count, interval, rng)
	log.WithField("sent", sent).Info("Simulation finished")

	if count > 0 {
		// give the MQTT path a moment to land before reading back
		if transport == "mqtt" {
			time.Sleep(time.Second)
		}
		total, err := queryRecent(ctx, apiURL, deviceID, 5)
		if err != nil {
			log.WithError(err).Error("Failed to query stored readings")
			return
		}
		log.WithField("returned", total).Info("Demo complete")
	}
}
