package tools

import (
	"encoding/json"
	"fmt"
)

// validateInput checks raw arguments against a tool's declared input schema.
// It covers the subset of JSON Schema the tool definitions actually use:
// top-level object type, required fields, and primitive property types
// (string, integer, number, boolean, array, object).
func validateInput(schema map[string]interface{}, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}

	var args map[string]interface{}
	if err := json.Unmarshal(input, &args); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	required, _ := schema["required"].([]string)
	if required == nil {
		// Schemas built from parsed JSON carry []interface{} instead.
		if raw, ok := schema["required"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	for _, field := range required {
		if _, present := args[field]; !present {
			return fmt.Errorf("missing required field %q", field)
		}
	}

	properties, _ := schema["properties"].(map[string]interface{})
	for name, value := range args {
		propSchema, declared := properties[name].(map[string]interface{})
		if !declared {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if err := checkType(wantType, value); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}

	return nil
}

func checkType(wantType string, value interface{}) error {
	if value == nil {
		return nil
	}
	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "integer":
		// JSON numbers decode as float64; accept whole values only.
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("expected integer, got %v", value)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	}
	return nil
}
