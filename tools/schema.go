package tools

// JSON Schema builders for memory tool inputs.

// thoughtDescription is attached to every memory tool so traces explain what
// the model expected to recall.
const thoughtDescription = "Why you are searching memory and what you expect to find. " +
	"Mention the user or entity the answer depends on."

func property(kind, description string) map[string]interface{} {
	p := map[string]interface{}{"type": kind}
	if description != "" {
		p["description"] = description
	}
	return p
}

// ObjectSchema returns an object schema. Required is omitted when empty.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func StringProperty(description string) map[string]interface{} {
	return property("string", description)
}

// StringEnumProperty restricts a string to values, e.g. memory tier names.
func StringEnumProperty(description string, values ...string) map[string]interface{} {
	p := property("string", description)
	p["enum"] = values
	return p
}

func NumberProperty(description string) map[string]interface{} {
	return property("number", description)
}

func IntegerProperty(description string) map[string]interface{} {
	return property("integer", description)
}

func ArrayProperty(description string, items map[string]interface{}) map[string]interface{} {
	p := property("array", description)
	p["items"] = items
	return p
}

// WithThought returns a copy of schema with an optional "thought" string.
// The engine logs it alongside the tool call and strips nothing else.
func WithThought(schema map[string]interface{}, requireThought bool) map[string]interface{} {
	out := make(map[string]interface{}, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}

	props := make(map[string]interface{})
	if existing, ok := schema["properties"].(map[string]interface{}); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty(thoughtDescription)
	out["properties"] = props

	if requireThought {
		required, _ := schema["required"].([]string)
		out["required"] = append(append([]string(nil), required...), "thought")
	}
	return out
}

// BuildSchemaWithThought is ObjectSchema followed by WithThought.
func BuildSchemaWithThought(properties map[string]interface{}, requireThought bool, required ...string) map[string]interface{} {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
