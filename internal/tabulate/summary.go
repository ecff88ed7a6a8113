package tabulate

import (
	"time"

	"github.com/montanaflynn/stats"
)

// Stats summarizes the present cells of one numeric column.
type Stats struct {
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Delta   float64 `json:"delta"`
	Count   int     `json:"count"`
}

// Summary maps a numeric column to its stats. Columns with no present
// cells are left out.
type Summary map[string]Stats

// Summarize computes stats over the table it is given and nothing else.
// Current is the last present value in row order, Delta is Current minus
// Mean.
func Summarize(t Table) Summary {
	out := make(Summary, len(NumericColumns))
	for _, col := range NumericColumns {
		values := columnValues(t, col)
		if len(values) == 0 {
			continue
		}
		// errors only occur for empty input
		lo, _ := stats.Min(values)
		hi, _ := stats.Max(values)
		mean, _ := stats.Mean(values)
		current := values[len(values)-1]
		out[col] = Stats{
			Current: current,
			Min:     lo,
			Max:     hi,
			Mean:    mean,
			Delta:   current - mean,
			Count:   len(values),
		}
	}
	return out
}

func columnValues(t Table, col string) stats.Float64Data {
	values := make(stats.Float64Data, 0, len(t.Rows))
	for _, r := range t.Rows {
		if v, ok := r.Value(col); ok {
			values = append(values, v)
		}
	}
	return values
}

// Latest is the newest row with a per-status health flag.
type Latest struct {
	Time     time.Time           `json:"time"`
	DeviceID string              `json:"device_id"`
	RecordID string              `json:"record_id"`
	Values   map[string]*float64 `json:"values"`
	Statuses map[string]string   `json:"statuses"`
	Healthy  map[string]bool     `json:"healthy"`
}

// LatestReading returns the last row of t, or false for an empty table.
// A status column is healthy only when it reads "ok".
func LatestReading(t Table) (Latest, bool) {
	if len(t.Rows) == 0 {
		return Latest{}, false
	}
	r := t.Rows[len(t.Rows)-1]
	healthy := make(map[string]bool, len(StatusColumns))
	for _, col := range StatusColumns {
		healthy[col] = r.Statuses[col] == "ok"
	}
	return Latest{
		Time:     r.Time,
		DeviceID: r.DeviceID,
		RecordID: r.RecordID,
		Values:   r.Values,
		Statuses: r.Statuses,
		Healthy:  healthy,
	}, true
}
