package actions

import "encoding/json"

const jsonSchemaDialect = "https://json-schema.org/draft/2020-12/schema"

// buildInputSchema renders the descriptor's parameters as a JSON Schema
// object. Unknown properties are allowed; required mirrors Param.Required.
func buildInputSchema(d *Descriptor) (json.RawMessage, error) {
	doc := objectSchema(d.Params)
	doc["$schema"] = jsonSchemaDialect
	if d.Description != "" {
		doc["description"] = d.Description
	}
	return json.Marshal(doc)
}

func objectSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0, len(params))
	for _, p := range params {
		props[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func paramSchema(p Param) map[string]any {
	switch p.Type {
	case TypeInteger:
		s := map[string]any{"type": "integer"}
		if p.Unsigned {
			s["minimum"] = 0
		}
		return s
	case TypeFloat:
		return map[string]any{"type": "number"}
	case TypeBoolean:
		return map[string]any{"type": "boolean"}
	case TypeString:
		return map[string]any{"type": "string"}
	case TypeRecord:
		if p.Elem != nil {
			return map[string]any{
				"type":                 "object",
				"additionalProperties": paramSchema(*p.Elem),
			}
		}
		return objectSchema(p.Fields)
	}
	return map[string]any{}
}
