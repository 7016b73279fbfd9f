package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor derives a JSON Schema object (as a plain map, the shape
// chatmodel.ToolDescriptor.Schema expects and every backend dialect
// forwards verbatim as the function's "parameters" field) from a Go
// argument struct, using github.com/invopop/jsonschema.
func schemaFor(argsStruct any) map[string]any {
	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(argsStruct)

	raw, err := schema.MarshalJSON()
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
