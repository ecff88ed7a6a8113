package models

import (
	"encoding/json"
	"fmt"
)

// Document is a StoredRecord in its loosely typed JSON form. The dashboard
// works on documents so that one malformed record does not fail a whole batch.
type Document map[string]interface{}

// ToDocument converts a typed record to the same shape the query endpoint emits.
func ToDocument(rec StoredRecord) (Document, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return doc, nil
}

// String returns the value at key if it is a string.
func (d Document) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Object returns the nested object at key.
func (d Document) Object(key string) (Document, bool) {
	switch v := d[key].(type) {
	case map[string]interface{}:
		return Document(v), true
	case Document:
		return v, true
	default:
		return nil, false
	}
}

// Float returns the numeric value at key. Integers decoded from JSON arrive
// as float64, json.Number is accepted for decoders using UseNumber.
func (d Document) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
