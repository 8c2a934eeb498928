package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema is the subset of JSON Schema used to validate raw command payloads.
type JSONSchema struct {
	Type                 string               `json:"type"`
	Title                string               `json:"title,omitempty"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Property is a single JSON Schema property.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	MaxLength   *int                 `json:"maxLength,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty"`
	Maximum     *float64             `json:"maximum,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// ApplicationInputSchema describes the JSON form of ApplicationInput.
func ApplicationInputSchema() *JSONSchema {
	return &JSONSchema{
		Type:  "object",
		Title: "ApplicationInput",
		Properties: map[string]*Property{
			"company":         {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(255)},
			"role":            {Type: "string", MinLength: intPtr(1), MaxLength: intPtr(255)},
			"job_description": {Type: "string", MinLength: intPtr(1)},
			"resume":          {Type: "string", MinLength: intPtr(1)},
			"email":           {Type: "string", Format: "email"},
			"deadline_weeks": {
				Type:        "integer",
				Description: "weeks after submission before a follow-up reminder is sent",
				Minimum:     floatPtr(1),
				Maximum:     floatPtr(52),
			},
		},
		Required: []string{"company", "role", "job_description", "resume", "email"},
	}
}

// SignalSchema describes the JSON form of a workflow signal.
func SignalSchema() *JSONSchema {
	return &JSONSchema{
		Type:  "object",
		Title: "Signal",
		Properties: map[string]*Property{
			"type": {Type: "string", Enum: []any{"update_status", "archive"}},
			"status": {
				Type: "string",
				Enum: []any{
					string(StatusInterview), string(StatusOffer),
					string(StatusRejected), string(StatusWithdrawn),
				},
			},
		},
		Required: []string{"type"},
	}
}

// ValidateJSON checks raw JSON data against schema and reports every
// violation in a single error.
func ValidateJSON(schema *JSONSchema, data []byte) error {
	var document any

	err := json.Unmarshal(data, &document)
	if err != nil {
		return fmt.Errorf("invalid JSON document: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// DecodeApplicationInput validates and decodes a raw application input.
func DecodeApplicationInput(data []byte) (ApplicationInput, error) {
	err := ValidateJSON(ApplicationInputSchema(), data)
	if err != nil {
		return ApplicationInput{}, err
	}

	var input ApplicationInput

	err = json.Unmarshal(data, &input)
	if err != nil {
		return ApplicationInput{}, fmt.Errorf("failed to decode application input: %w", err)
	}

	return input.WithDefaults(), nil
}
