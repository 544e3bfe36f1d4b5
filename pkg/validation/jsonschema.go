package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaError reports every leaf violation of a payload against a schema.
type SchemaError struct {
	Schema     string
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("payload does not match schema %s: %s", e.Schema, strings.Join(e.Violations, "; "))
}

// SchemaSet holds compiled schemas addressed by name.
type SchemaSet struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewSchemaSet() *SchemaSet {
	return &SchemaSet{schemas: make(map[string]*jsonschema.Schema)}
}

func (s *SchemaSet) Add(name, schemaJSON string) error {
	sch, err := compile(name, schemaJSON)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[name] = sch
	return nil
}

// Validate checks data against the named schema. Names without a schema
// accept anything.
func (s *SchemaSet) Validate(name string, data any) error {
	s.mu.RLock()
	sch, ok := s.schemas[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	doc, err := normalize(data)
	if err != nil {
		return err
	}
	return check(name, sch, doc)
}

// ValidateJSONWithSchema validates a JSON document against a JSON schema.
func ValidateJSONWithSchema(schemaJSON string, dataJSON string) error {
	if schemaJSON == "" {
		return nil
	}
	sch, err := compile("schema.json", schemaJSON)
	if err != nil {
		return err
	}
	doc, err := decode([]byte(dataJSON))
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON data: %w", err)
	}
	return check("schema.json", sch, doc)
}

func compile(name, schemaJSON string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := name
	if !strings.HasSuffix(url, ".json") {
		url += ".json"
	}
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema %s: %w", name, err)
	}
	return sch, nil
}

func check(name string, sch *jsonschema.Schema, doc any) error {
	err := sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("failed to validate against %s: %w", name, err)
	}
	return &SchemaError{Schema: name, Violations: leaves(ve)}
}

func leaves(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// normalize round-trips data through JSON so Go values (ints, structs) reach
// the validator in the shape a decoded request body would have.
func normalize(data any) (any, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return decode(b)
}

func decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
