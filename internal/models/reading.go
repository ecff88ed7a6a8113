package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the health flag a sensor reports alongside its value.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Default units filled in when the device omits them.
const (
	UnitCelsius = "celsius"
	UnitPercent = "percent"
	UnitCM      = "cm"
)

// IsValidStatus checks if a status is one of the known values
func IsValidStatus(s Status) bool {
	switch s {
	case StatusOK, StatusWarning, StatusError:
		return true
	default:
		return false
	}
}

// SoilTemperature is the DS18B20 probe buried in the substrate.
type SoilTemperature struct {
	Value  float64 `bson:"value" json:"value"`
	Unit   string  `bson:"unit" json:"unit"`
	Status Status  `bson:"status" json:"status"`
}

// Air is the DHT11 ambient temperature/humidity sensor.
type Air struct {
	Temperature     float64 `bson:"temperature" json:"temperature"`
	Humidity        float64 `bson:"humidity" json:"humidity"`
	UnitTemperature string  `bson:"unit_temperature" json:"unit_temperature"`
	UnitHumidity    string  `bson:"unit_humidity" json:"unit_humidity"`
	Status          Status  `bson:"status" json:"status"`
}

// WaterLevel is the HC-SR04 ultrasonic distance to the reservoir surface.
type WaterLevel struct {
	Distance float64 `bson:"distance" json:"distance"`
	Unit     string  `bson:"unit" json:"unit"`
	Status   Status  `bson:"status" json:"status"`
}

// SoilMoisture is the HL-69 resistive probe. Raw is the 12-bit ADC sample.
type SoilMoisture struct {
	Value  float64 `bson:"value" json:"value"`
	Raw    int     `bson:"raw" json:"raw"`
	Unit   string  `bson:"unit" json:"unit"`
	Status Status  `bson:"status" json:"status"`
}

// UnmarshalJSON accepts raw as any whole number, including forms such as
// 2380.0 or 2.38e3.
func (m *SoilMoisture) UnmarshalJSON(data []byte) error {
	type plain SoilMoisture
	aux := struct {
		*plain
		Raw json.Number `json:"raw"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Raw == "" {
		return nil
	}
	f, err := aux.Raw.Float64()
	if err != nil {
		return fmt.Errorf("soil_moisture.raw: %w", err)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("soil_moisture.raw must be a whole number, got %s", aux.Raw)
	}
	m.Raw = int(f)
	return nil
}

// Channels groups the four sensors of one submission.
type Channels struct {
	SoilTemperature SoilTemperature `bson:"soil_temperature" json:"soil_temperature"`
	Air             Air             `bson:"air" json:"air"`
	WaterLevel      WaterLevel      `bson:"water_level" json:"water_level"`
	SoilMoisture    SoilMoisture    `bson:"soil_moisture" json:"soil_moisture"`
}

// Reading is one validated device submission before persistence.
type Reading struct {
	DeviceID        string   `bson:"device_id" json:"device_id"`
	DeviceTimestamp string   `bson:"device_timestamp" json:"device_timestamp"`
	Channels        Channels `bson:"channels" json:"channels"`
}

// ApplyDefaults fills units and statuses the device left empty.
func (r *Reading) ApplyDefaults() {
	c := &r.Channels
	c.SoilTemperature.Unit = orDefault(c.SoilTemperature.Unit, UnitCelsius)
	c.SoilTemperature.Status = statusOrDefault(c.SoilTemperature.Status)
	c.Air.UnitTemperature = orDefault(c.Air.UnitTemperature, UnitCelsius)
	c.Air.UnitHumidity = orDefault(c.Air.UnitHumidity, UnitPercent)
	c.Air.Status = statusOrDefault(c.Air.Status)
	c.WaterLevel.Unit = orDefault(c.WaterLevel.Unit, UnitCM)
	c.WaterLevel.Status = statusOrDefault(c.WaterLevel.Status)
	c.SoilMoisture.Unit = orDefault(c.SoilMoisture.Unit, UnitPercent)
	c.SoilMoisture.Status = statusOrDefault(c.SoilMoisture.Status)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func statusOrDefault(s Status) Status {
	if s == "" {
		return StatusOK
	}
	return s
}

// StoredRecord is a Reading plus the metadata assigned on receipt.
// It is written once and never updated.
type StoredRecord struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"record_id"`
	DeviceID        string             `bson:"device_id" json:"device_id"`
	DeviceTimestamp string             `bson:"device_timestamp" json:"device_timestamp"`
	ServerTimestamp time.Time          `bson:"server_timestamp" json:"server_timestamp"`
	Channels        Channels           `bson:"channels" json:"channels"`
}

// NewStoredRecord stamps a reading with the server receipt time.
// Mongo keeps milliseconds, so the stamp is truncated to match what reads return.
func NewStoredRecord(r Reading, receivedAt time.Time) StoredRecord {
	return StoredRecord{
		DeviceID:        r.DeviceID,
		DeviceTimestamp: r.DeviceTimestamp,
		ServerTimestamp: receivedAt.UTC().Truncate(time.Millisecond),
		Channels:        r.Channels,
	}
}

// Confirmation is returned to the device after a successful write.
type Confirmation struct {
	DeviceID        string    `json:"device_id"`
	RecordID        string    `json:"record_id"`
	ServerTimestamp time.Time `json:"server_timestamp"`
	Status          string    `json:"status"`
}
