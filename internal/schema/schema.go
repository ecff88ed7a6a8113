// Package schema validates raw device submissions against the reading schema.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ukydev/greenroof-monitor/internal/models"
)

const schemaURL = "https://greenroof-monitor/schemas/reading.schema.json"

//go:embed reading.schema.json
var readingSchema string

var compiled = mustCompile()

func mustCompile() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(readingSchema)); err != nil {
		panic(fmt.Sprintf("load reading schema: %v", err))
	}
	return compiler.MustCompile(schemaURL)
}

// FieldError names one offending field by its JSON pointer.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every structural problem found in a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid reading: " + strings.Join(parts, "; ")
}

func rootError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: "/", Message: fmt.Sprintf(format, args...)}}}
}

// Validate checks raw JSON against the reading schema and returns the typed
// reading with default units and statuses applied. On failure the error is
// always a *ValidationError.
func Validate(raw []byte) (models.Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return models.Reading{}, rootError("malformed JSON: %v", err)
	}
	if dec.More() {
		return models.Reading{}, rootError("malformed JSON: trailing data after object")
	}

	if err := compiled.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return models.Reading{}, fromSchemaError(verr)
		}
		return models.Reading{}, rootError("%v", err)
	}

	var r models.Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Reading{}, rootError("decode reading: %v", err)
	}
	r.ApplyDefaults()
	return r, nil
}

func fromSchemaError(verr *jsonschema.ValidationError) *ValidationError {
	var fields []FieldError
	collectLeaves(verr, &fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return &ValidationError{Fields: fields}
}

func collectLeaves(e *jsonschema.ValidationError, out *[]FieldError) {
	if len(e.Causes) == 0 {
		field := e.InstanceLocation
		if field == "" {
			field = "/"
		}
		*out = append(*out, FieldError{Field: field, Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}
