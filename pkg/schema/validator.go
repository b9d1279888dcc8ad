package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"catalyst-migrator/pkg/types"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed profile.schema.json
var profileSchema []byte

// Validator decides whether metadata is acceptable for an entity type.
type Validator interface {
	Validate(entityType types.EntityType, metadata json.RawMessage) error
}

// ValidationError carries every leaf failure reported by the schema.
type ValidationError struct {
	Type     types.EntityType
	Failures []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s metadata failed validation: %s", e.Type, strings.Join(e.Failures, "; "))
}

// SchemaValidator validates metadata against compiled JSON schemas keyed by
// entity type. Types without a schema pass.
type SchemaValidator struct {
	schemas map[types.EntityType]*jsonschema.Schema
}

// NewSchemaValidator compiles the embedded profile schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[types.EntityType]*jsonschema.Schema)}
	if err := v.Register(types.EntityTypeProfile, profileSchema); err != nil {
		return nil, err
	}
	return v, nil
}

// Register compiles schema and uses it for entityType.
func (v *SchemaValidator) Register(entityType types.EntityType, schema []byte) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	resourceID := "inmemory://" + string(entityType)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	v.schemas[entityType] = compiled
	return nil
}

func (v *SchemaValidator) Validate(entityType types.EntityType, metadata json.RawMessage) error {
	compiled, ok := v.schemas[entityType]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(metadata))
	dec.UseNumber()
	var doc interface{}
	err := dec.Decode(&doc)
	if err == nil {
		if _, tokErr := dec.Token(); tokErr != io.EOF {
			err = errors.New("invalid character after top-level value")
		}
	}
	if err != nil {
		return &ValidationError{Type: entityType, Failures: []string{"metadata is not valid JSON: " + err.Error()}}
	}

	err = compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var failures []string
	collectLeaves(ve, &failures)
	return &ValidationError{Type: entityType, Failures: failures}
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, loc+": "+ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

// NopValidator accepts everything.
type NopValidator struct{}

func (NopValidator) Validate(types.EntityType, json.RawMessage) error { return nil }
