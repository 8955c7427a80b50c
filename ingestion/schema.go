package ingestion

import (
	"encoding/json"
	"fmt"

	"pulse.dev/rtcore/classify"
)

// validate decodes payload as a JSON object and checks it against spec,
// rejecting the item rather than partially storing it when it fails.
func validate(spec SchemaSpec, payload []byte) error {
	var row map[string]interface{}
	if err := json.Unmarshal(payload, &row); err != nil {
		return classify.New(classify.DataSchemaMismatch, "payload is not a JSON object", err)
	}

	for _, field := range spec.RequiredFields {
		if _, ok := row[field]; !ok {
			return classify.New(classify.DataSchemaMismatch, fmt.Sprintf("missing required field %q", field), nil)
		}
	}

	for field, wantType := range spec.FieldTypes {
		v, ok := row[field]
		if !ok || v == nil {
			continue
		}
		if !matchesType(v, wantType) {
			return classify.New(classify.DataSchemaMismatch, fmt.Sprintf("field %q expected type %q", field, wantType), nil)
		}
	}
	return nil
}

func matchesType(v interface{}, wantType string) bool {
	switch wantType {
	case "number":
		_, ok := v.(float64)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}
