package flowengine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// validateAgainstSchema checks raw against schema's structural shape,
// reusing the same jsonschema/v5 compiler agentexec uses for output-schema
// validation rather than hand-rolling a second validator. schema is
// marshaled to a plain JSON Schema document first since StateSchema is a
// typed Go projection of one, not raw schema text.
func validateAgainstSchema(schema *aoftypes.StateSchema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}

	doc, err := schemaDocument(schema)
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	const resource = "flowengine://interrupt-schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(string(doc))); err != nil {
		return fmt.Errorf("flowengine: load interrupt schema: %w", err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("flowengine: compile interrupt schema: %w", err)
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("flowengine: decode interrupt value: %w", err)
	}
	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("flowengine: interrupt value does not match schema: %w", err)
	}
	return nil
}

func schemaDocument(schema *aoftypes.StateSchema) ([]byte, error) {
	doc := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for name, p := range schema.Properties {
			props[name] = propertyDocument(p)
		}
		doc["properties"] = props
	}
	if len(schema.Required) > 0 {
		doc["required"] = schema.Required
	}
	return json.Marshal(doc)
}

func propertyDocument(p aoftypes.PropertySchema) map[string]any {
	out := map[string]any{"type": p.Type}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = propertyDocument(*p.Items)
	}
	return out
}
