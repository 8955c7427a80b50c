package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequiresFields(t *testing.T) {
	spec := SchemaSpec{RequiredFields: []string{"a", "b"}}
	err := validate(spec, []byte(`{"a": 1}`))
	assert.Error(t, err)
}

func TestValidateChecksFieldTypes(t *testing.T) {
	spec := SchemaSpec{FieldTypes: map[string]string{"a": "number"}}
	err := validate(spec, []byte(`{"a": "not a number"}`))
	assert.Error(t, err)
}

func TestValidateAcceptsMatchingPayload(t *testing.T) {
	spec := SchemaSpec{RequiredFields: []string{"a"}, FieldTypes: map[string]string{"a": "number", "b": "string"}}
	err := validate(spec, []byte(`{"a": 1, "b": "x"}`))
	assert.NoError(t, err)
}

func TestValidateRejectsNonObjectPayload(t *testing.T) {
	spec := SchemaSpec{}
	err := validate(spec, []byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestValidateSkipsNullOptionalFields(t *testing.T) {
	spec := SchemaSpec{FieldTypes: map[string]string{"a": "number"}}
	err := validate(spec, []byte(`{"a": null}`))
	assert.NoError(t, err)
}
