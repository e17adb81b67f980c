// internal/schema/validator.go
// Package schema provides JSON schema validation for inbound bridge documents.
// It rejects malformed inspection reports and bridge requests before they reach the verifier.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Document names.
const (
	InspectionReport = "phigital.inspection.report"
	CreationData     = "phigital.bridge.creation"
	Metadata         = "phigital.token.metadata"
)

// SchemaVersions maps document names to their current schema versions.
var SchemaVersions = map[string]string{
	InspectionReport: "1.0.0",
	CreationData:     "1.0.0",
	Metadata:         "1.0.0",
}

const metadataSchema = `{
	"type": ["object", "null"],
	"properties": {
		"name": {"type": "string", "maxLength": 256},
		"description": {"type": "string", "maxLength": 4096},
		"image": {"type": "string", "maxLength": 2048},
		"attributes": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"required": ["trait_type", "value"],
				"properties": {"trait_type": {"type": "string"}, "value": {"type": "string"}}
			}
		}
	}
}`

const inspectionSchema = `{
	"type": "object",
	"required": ["inspectorId", "assetId", "physicalCondition", "authenticity", "bridgingQuality"],
	"properties": {
		"inspectorId": {"type": "string", "minLength": 1, "maxLength": 256},
		"assetId": {"type": "integer", "minimum": 1},
		"physicalCondition": {"enum": ["excellent", "good", "fair", "poor"]},
		"authenticity": {"enum": ["verified", "suspicious", "counterfeit"]},
		"bridgingQuality": {"enum": ["secure", "adequate", "weak"]},
		"notes": {"type": "string", "maxLength": 4096},
		"photos": {"type": ["array", "null"], "items": {"type": "string"}}
	}
}`

const creationSchema = `{
	"type": "object",
	"required": ["tokenId", "contractAddress", "networkId", "verificationMethods"],
	"properties": {
		"tokenId": {"type": "integer", "minimum": 0},
		"contractAddress": {"type": "string", "minLength": 1},
		"networkId": {"type": "integer", "minimum": 1},
		"verificationMethods": {
			"type": "array",
			"minItems": 1,
			"items": {"enum": ["qr", "nfc"]}
		}
	}
}`

// Validator validates documents against JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of document names to JSON schemas
}

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Document string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s failed validation: %v", e.Document, e.Problems)
}

// NewValidator compiles all supported schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for name, src := range map[string]string{
		InspectionReport: inspectionSchema,
		CreationData:     creationSchema,
		Metadata:         metadataSchema,
	} {
		if err := v.loadSchema(name, src); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// loadSchema parses and compiles a JSON schema for a specific document type.
func (v *Validator) loadSchema(document, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", document, err)
	}
	v.schemas[document] = schema
	return nil
}

// Validate checks doc (any JSON-marshalable value) against the named schema.
// A schema violation is returned as *ValidationError.
func (v *Validator) Validate(document string, doc interface{}) error {
	schema, exists := v.schemas[document]
	if !exists {
		return fmt.Errorf("schema not found for document: %s", document)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		sort.Strings(problems)
		return &ValidationError{Document: document, Problems: problems}
	}
	return nil
}
