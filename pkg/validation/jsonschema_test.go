package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const personSchema = `{
	"type": "object",
	"properties": { "name": {"type": "string"}, "age": {"type": "integer", "minimum": 0} },
	"required": ["name", "age"]
}`

func TestValidateJSONWithSchema(t *testing.T) {
	assert.NoError(t, ValidateJSONWithSchema(personSchema, `{"name": "John Doe", "age": 30}`))
	assert.NoError(t, ValidateJSONWithSchema("", `{"name": "Test"}`))

	err := ValidateJSONWithSchema(personSchema, `{"name": "Test"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing properties: 'age'")

	err = ValidateJSONWithSchema(personSchema, `{"name": "Test", "age": "thirty"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected integer, but got string")

	err = ValidateJSONWithSchema(personSchema, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal JSON data")

	err = ValidateJSONWithSchema(`{"type": "object", "properties": {"name": {"type": "str"}}}`, `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile JSON schema")
}

func TestSchemaSet_Validate(t *testing.T) {
	set := NewSchemaSet()
	require.NoError(t, set.Add("person", personSchema))

	assert.NoError(t, set.Validate("person", map[string]any{"name": "a", "age": 3}))
	assert.NoError(t, set.Validate("unknown", map[string]any{"anything": true}))

	err := set.Validate("person", map[string]any{"name": 1, "age": -1})
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, "person", schemaErr.Schema)
	assert.Len(t, schemaErr.Violations, 2)

	err = set.Validate("person", nil)
	require.True(t, errors.As(err, &schemaErr))
}
