// Package tabulate flattens stored reading documents into time-ordered rows
// and computes per-channel summaries over them.
package tabulate

import (
	"sort"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/ukydev/greenroof-monitor/internal/models"
)

// Numeric columns.
const (
	AirTemperature  = "air_temperature"
	AirHumidity     = "air_humidity"
	SoilTemperature = "soil_temperature"
	SoilMoisture    = "soil_moisture"
	SoilMoistureRaw = "soil_moisture_raw"
	WaterDistance   = "water_distance"
)

// Status columns.
const (
	AirStatus             = "air_status"
	SoilTemperatureStatus = "soil_temperature_status"
	SoilMoistureStatus    = "soil_moisture_status"
	WaterLevelStatus      = "water_level_status"
)

// Where a row's time came from.
const (
	TimeSourceDevice = "device"
	TimeSourceServer = "server"
	TimeSourceNone   = ""
)

var (
	NumericColumns = []string{AirTemperature, AirHumidity, SoilTemperature, SoilMoisture, SoilMoistureRaw, WaterDistance}
	StatusColumns  = []string{AirStatus, SoilTemperatureStatus, SoilMoistureStatus, WaterLevelStatus}
)

// cellPath locates a column inside a document: channels.<channel>.<field>.
type cellPath struct {
	channel string
	field   string
}

var numericPaths = map[string]cellPath{
	AirTemperature:  {"air", "temperature"},
	AirHumidity:     {"air", "humidity"},
	SoilTemperature: {"soil_temperature", "value"},
	SoilMoisture:    {"soil_moisture", "value"},
	SoilMoistureRaw: {"soil_moisture", "raw"},
	WaterDistance:   {"water_level", "distance"},
}

var statusPaths = map[string]cellPath{
	AirStatus:             {"air", "status"},
	SoilTemperatureStatus: {"soil_temperature", "status"},
	SoilMoistureStatus:    {"soil_moisture", "status"},
	WaterLevelStatus:      {"water_level", "status"},
}

// Row is one record. A nil value or empty status is an absent cell.
type Row struct {
	Time       time.Time           `json:"time"`
	TimeSource string              `json:"time_source"`
	DeviceID   string              `json:"device_id"`
	RecordID   string              `json:"record_id"`
	Values     map[string]*float64 `json:"values"`
	Statuses   map[string]string   `json:"statuses"`
}

// Value returns the cell for a numeric column.
func (r Row) Value(col string) (float64, bool) {
	v := r.Values[col]
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Table holds rows in ascending time order.
type Table struct {
	Rows []Row `json:"rows"`
}

func (t Table) Len() int { return len(t.Rows) }

// Span is the time between the first and last timed rows.
func (t Table) Span() time.Duration {
	var first, last time.Time
	for _, r := range t.Rows {
		if r.Time.IsZero() {
			continue
		}
		if first.IsZero() {
			first = r.Time
		}
		last = r.Time
	}
	return last.Sub(first)
}

// Build turns documents into a table sorted by ascending row time,
// regardless of the order they arrive in. Rows whose time cannot be
// determined keep a zero time and sort first. Ties keep input order.
func Build(docs []models.Document) Table {
	rows := make([]Row, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		rows = append(rows, buildRow(doc))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Time.Before(rows[j].Time)
	})
	return Table{Rows: rows}
}

func buildRow(doc models.Document) Row {
	row := Row{
		Values:   make(map[string]*float64, len(NumericColumns)),
		Statuses: make(map[string]string, len(StatusColumns)),
	}
	row.DeviceID, _ = doc.String("device_id")
	row.RecordID, _ = doc.String("record_id")
	row.Time, row.TimeSource = rowTime(doc)

	channels, _ := doc.Object("channels")
	for _, col := range NumericColumns {
		p := numericPaths[col]
		row.Values[col] = nil
		if ch, ok := channels.Object(p.channel); ok {
			if v, ok := ch.Float(p.field); ok {
				row.Values[col] = &v
			}
		}
	}
	for _, col := range StatusColumns {
		p := statusPaths[col]
		if ch, ok := channels.Object(p.channel); ok {
			row.Statuses[col], _ = ch.String(p.field)
		} else {
			row.Statuses[col] = ""
		}
	}
	return row
}

// rowTime prefers the device clock and falls back to the server receipt time.
func rowTime(doc models.Document) (time.Time, string) {
	if t, ok := parseTime(doc["device_timestamp"]); ok {
		return t, TimeSourceDevice
	}
	if t, ok := parseTime(doc["server_timestamp"]); ok {
		return t, TimeSourceServer
	}
	return time.Time{}, TimeSourceNone
}

func parseTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := iso8601.ParseString(t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}
