// Package validate provides pluggable frame validation applied between
// framing and publishing.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/parrot/errors"
)

// Validator decides whether a frame is publishable. A nil error means the
// frame passes; the returned error describes the rejection. Implementations
// must be safe for concurrent use, as every connection handler shares one
// instance.
type Validator interface {
	// Validate checks a single frame. The frame must not be retained.
	Validate(frame []byte) error

	// Name identifies the validator in logs and health output.
	Name() string
}

// AcceptAll passes every frame, including empty ones. It is the default
// when no validation is configured.
type AcceptAll struct{}

// Validate always returns nil.
func (AcceptAll) Validate([]byte) error { return nil }

// Name returns the validator name.
func (AcceptAll) Name() string { return "accept_all" }

// JSON requires each frame to be a syntactically valid JSON document.
type JSON struct{}

// Validate checks the frame for well-formed JSON.
func (JSON) Validate(frame []byte) error {
	if !json.Valid(frame) {
		return errors.WrapInvalid(errors.ErrInvalidData, "validate", "json", "parse frame")
	}
	return nil
}

// Name returns the validator name.
func (JSON) Name() string { return "json" }

// Schema validates frames against a compiled JSON Schema. The schema is
// compiled once at construction; Validate only runs the document check.
type Schema struct {
	schema *gojsonschema.Schema
	name   string
}

// NewSchema compiles the given JSON Schema document. Compilation errors are
// reported as invalid configuration.
func NewSchema(schemaJSON []byte) (*Schema, error) {
	if len(schemaJSON) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "validate", "schema", "load schema document")
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "validate", "schema", "compile schema")
	}

	return &Schema{schema: compiled, name: "json_schema"}, nil
}

// Validate checks the frame against the compiled schema.
func (s *Schema) Validate(frame []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(frame))
	if err != nil {
		// The loader rejects frames that are not JSON at all.
		return errors.WrapInvalid(errors.ErrInvalidData, "validate", "schema", "parse frame")
	}

	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: schema violation: %s", errors.ErrInvalidData, strings.Join(reasons, "; ")),
			"validate", "schema", "check frame")
	}
	return nil
}

// Name returns the validator name.
func (s *Schema) Name() string { return s.name }

// ForMode returns the validator for a configured mode string. Supported
// modes are "none", "json", and "schema"; "schema" requires a non-empty
// schema document.
func ForMode(mode string, schemaJSON []byte) (Validator, error) {
	switch mode {
	case "", "none":
		return AcceptAll{}, nil
	case "json":
		return JSON{}, nil
	case "schema":
		return NewSchema(schemaJSON)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown validation mode %q", errors.ErrInvalidConfig, mode),
			"validate", "formode", "select validator")
	}
}
