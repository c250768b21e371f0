package toolloop

import "testing"

func TestValidateToolPayloadAcceptsMatchingPayload(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}
	if err := validateToolPayload(schema, map[string]any{"query": "docs"}); err != nil {
		t.Fatalf("expected valid payload to pass: %v", err)
	}
}

func TestValidateToolPayloadRejectsMissingRequiredField(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}
	if err := validateToolPayload(schema, map[string]any{}); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestValidateToolPayloadNilSchemaAlwaysValidates(t *testing.T) {
	if err := validateToolPayload(nil, map[string]any{"anything": true}); err != nil {
		t.Fatalf("nil schema must always validate: %v", err)
	}
}
