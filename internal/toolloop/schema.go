package toolloop

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateToolPayload checks a decoded tool-call payload against a tool's
// declared JSON Schema before dispatch. A tool with no declared schema always
// validates; MCP servers are not required to publish one.
func validateToolPayload(schema, payload any) error {
	if schema == nil {
		return nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool-schema.json", schema); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("tool-schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(payload)
}
