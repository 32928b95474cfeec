package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// schemaToMap converts an inferred jsonschema.Schema into the raw
// map[string]any the Responses API's FunctionToolParam.Parameters field
// expects. jsonschema.Schema marshals to standard JSON Schema, so a
// marshal/unmarshal round trip is the most defensive way to get there
// without depending on its exact exported-field shape.
func schemaToMap(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

func unmarshalToolArgs(rawArgs string, dest *retrievalToolArgs) error {
	if rawArgs == "" {
		return fmt.Errorf("runtime: empty tool call arguments")
	}
	if err := json.Unmarshal([]byte(rawArgs), dest); err != nil {
		return fmt.Errorf("runtime: decoding tool call arguments: %w", err)
	}
	return nil
}

func jsonQuote(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(data)
}
