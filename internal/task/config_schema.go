package task

import "fmt"

// validateConfigSchema checks config against a JSON-schema-shaped dict,
// supporting the subset the original Python source actually used:
// top-level "required" and "properties" with a "type" per property. This
// is the supplemented behavior from §3.1: a non-continuous analysis whose
// descriptor carries a config_schema gets its config validated before the
// driver ever contacts the plugin.
func validateConfigSchema(config map[string]interface{}, schema map[string]interface{}) error {
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := config[name]; !present {
				return fmt.Errorf("missing required config field %q", name)
			}
		}
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for name, value := range config {
		propSchema, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		wantType, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if err := checkType(name, value, wantType); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, value interface{}, wantType string) error {
	ok := false
	switch wantType {
	case "string":
		_, ok = value.(string)
	case "number":
		_, isFloat := value.(float64)
		_, isInt := value.(int)
		ok = isFloat || isInt
	case "integer":
		_, isFloat := value.(float64)
		_, isInt := value.(int)
		ok = isFloat || isInt
	case "boolean":
		_, ok = value.(bool)
	case "object":
		_, ok = value.(map[string]interface{})
	case "array":
		_, ok = value.([]interface{})
	default:
		return nil
	}
	if !ok {
		return fmt.Errorf("config field %q must be of type %q", name, wantType)
	}
	return nil
}
