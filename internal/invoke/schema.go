package invoke

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// validateArguments checks a tool call's arguments against the tool's
// JSON schema. Supported checks: required fields, per-property type
// constraints, and additionalProperties. An empty schema accepts
// anything.
func validateArguments(schema map[string]any, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	required, err := requiredFields(schema["required"])
	if err != nil {
		return err
	}
	for _, field := range required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required argument %q", field)
		}
	}

	properties, hasProperties := stringAnyMap(schema["properties"])
	allowExtra, err := additionalAllowed(schema["additionalProperties"])
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(args) {
		propSchema, known := properties[key]
		if !known {
			if hasProperties && !allowExtra {
				return fmt.Errorf("unknown argument %q", key)
			}
			continue
		}

		want, hasType, err := propertyType(propSchema)
		if err != nil {
			return err
		}
		if !hasType {
			continue
		}
		if !matchesType(want, args[key]) {
			return fmt.Errorf("argument %q must be of type %q", key, want)
		}
	}

	return nil
}

func requiredFields(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New(`schema "required" entries must be strings`)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New(`schema "required" must be an array`)
	}
}

func additionalAllowed(raw any) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return true, nil
	case bool:
		return v, nil
	default:
		return false, errors.New(`schema "additionalProperties" must be a bool`)
	}
}

func propertyType(propSchema any) (string, bool, error) {
	m, ok := stringAnyMap(propSchema)
	if !ok {
		return "", false, errors.New(`schema "properties" entries must be objects`)
	}
	raw, ok := m["type"]
	if !ok {
		return "", false, nil
	}
	name, ok := raw.(string)
	if !ok {
		return "", false, errors.New(`schema property "type" must be a string`)
	}
	return name, true, nil
}

func stringAnyMap(raw any) (map[string]any, bool) {
	m, ok := raw.(map[string]any)
	return m, ok
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func matchesType(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		return isInteger(value)
	case "object":
		if value == nil {
			return false
		}
		if _, ok := value.(map[string]any); ok {
			return true
		}
		return reflect.TypeOf(value).Kind() == reflect.Map
	case "array":
		if value == nil {
			return false
		}
		kind := reflect.TypeOf(value).Kind()
		return kind == reflect.Array || kind == reflect.Slice
	default:
		// Unrecognized type names are not enforced.
		return true
	}
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		// JSON numbers decode as float64; accept integral values.
		return v == float64(int64(v))
	default:
		return false
	}
}
