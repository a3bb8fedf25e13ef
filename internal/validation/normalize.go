package validation

import "sort"

const draft4URL = "http://json-schema.org/draft-04/schema#"

// keywords whose value is a map of name to subschema
var schemaMaps = []string{"properties", "patternProperties", "definitions", "dependencies"}

// keywords whose value is a subschema or a list of subschemas
var schemaValues = []string{"items", "additionalProperties", "additionalItems", "allOf", "anyOf", "oneOf", "not"}

// normalize rewrites a Draft-3 schema in place so it compiles as Draft 4
func normalize(schema map[string]any) {
	if _, ok := schema["$schema"]; ok {
		schema["$schema"] = draft4URL
	}

	switch t := schema["type"].(type) {
	case string:
		if t == "any" {
			delete(schema, "type")
		}
	case []any:
		if containsAny(t) {
			delete(schema, "type")
		}
	}

	if d, ok := schema["divisibleBy"]; ok {
		schema["multipleOf"] = d
		delete(schema, "divisibleBy")
	}

	if ext, ok := schema["extends"]; ok {
		switch e := ext.(type) {
		case []any:
			schema["allOf"] = e
		default:
			schema["allOf"] = []any{e}
		}
		delete(schema, "extends")
	}

	hoistRequired(schema)

	for _, key := range schemaMaps {
		children, ok := schema[key].(map[string]any)
		if !ok {
			continue
		}
		for _, child := range children {
			if sub, ok := child.(map[string]any); ok {
				normalize(sub)
			}
		}
	}
	for _, key := range schemaValues {
		switch v := schema[key].(type) {
		case map[string]any:
			normalize(v)
		case []any:
			for _, item := range v {
				if sub, ok := item.(map[string]any); ok {
					normalize(sub)
				}
			}
		}
	}
}

// hoistRequired replaces the boolean "required" flags of schema's
// properties with a sorted list of names on schema itself
func hoistRequired(schema map[string]any) {
	if _, isBool := schema["required"].(bool); isBool {
		delete(schema, "required")
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return
	}

	var required []string
	if existing, ok := schema["required"].([]any); ok {
		for _, r := range existing {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	for name, p := range props {
		prop, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if req, ok := prop["required"].(bool); ok {
			if req {
				required = append(required, name)
			}
			delete(prop, "required")
		}
	}

	if len(required) == 0 {
		delete(schema, "required")
		return
	}
	sort.Strings(required)
	list := make([]any, len(required))
	for i, r := range required {
		list[i] = r
	}
	schema["required"] = list
}

func containsAny(types []any) bool {
	for _, t := range types {
		if s, ok := t.(string); ok && s == "any" {
			return true
		}
	}
	return false
}
