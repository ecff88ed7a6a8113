package tabulate

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Panel groups columns that share a chart and a unit.
type Panel struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Unit    string   `json:"unit"`
	Columns []string `json:"columns"`
}

var Panels = []Panel{
	{Name: "temperatures", Title: "Temperatures", Unit: "°C", Columns: []string{AirTemperature, SoilTemperature}},
	{Name: "air_humidity", Title: "Air humidity", Unit: "%", Columns: []string{AirHumidity}},
	{Name: "soil_moisture", Title: "Soil moisture", Unit: "%", Columns: []string{SoilMoisture}},
	{Name: "distance", Title: "Water level distance", Unit: "cm", Columns: []string{WaterDistance}},
}

type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Series struct {
	Column string  `json:"column"`
	Points []Point `json:"points"`
}

// PanelData is a panel with its plotted series.
type PanelData struct {
	Panel
	Series []Series `json:"series"`
}

// BuildPanels extracts the series for every panel. Absent cells and rows
// without a time are skipped.
func BuildPanels(t Table) []PanelData {
	out := make([]PanelData, 0, len(Panels))
	for _, p := range Panels {
		pd := PanelData{Panel: p, Series: make([]Series, 0, len(p.Columns))}
		for _, col := range p.Columns {
			s := Series{Column: col, Points: []Point{}}
			for _, r := range t.Rows {
				if r.Time.IsZero() {
					continue
				}
				if v, ok := r.Value(col); ok {
					s.Points = append(s.Points, Point{Time: r.Time, Value: v})
				}
			}
			pd.Series = append(pd.Series, s)
		}
		out = append(out, pd)
	}
	return out
}

// CSVHeader is the first line written by WriteCSV.
func CSVHeader() []string {
	header := []string{"time", "time_source", "device_id", "record_id"}
	header = append(header, NumericColumns...)
	return append(header, StatusColumns...)
}

// WriteCSV writes the table in row order. Absent cells are empty fields.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range t.Rows {
		rec := make([]string, 0, 4+len(NumericColumns)+len(StatusColumns))
		ts := ""
		if !r.Time.IsZero() {
			ts = r.Time.Format(time.RFC3339Nano)
		}
		rec = append(rec, ts, r.TimeSource, r.DeviceID, r.RecordID)
		for _, col := range NumericColumns {
			if v, ok := r.Value(col); ok {
				rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		for _, col := range StatusColumns {
			rec = append(rec, r.Statuses[col])
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
