package mcpclient

import (
	"encoding/json"
	"fmt"

	validator "github.com/google/jsonschema-go/jsonschema"

	"github.com/ggoodman/mcp-todo/mcp"
)

// resultSchemas describe the minimum shape of each verb's result. Unknown
// properties are allowed so newer servers still validate.
var resultSchemas = map[mcp.Method]string{
	mcp.InitializeMethod: `{
		"type": "object",
		"required": ["protocolVersion", "capabilities", "serverInfo"],
		"properties": {
			"protocolVersion": {"type": "string"},
			"capabilities": {"type": "object"},
			"serverInfo": {
				"type": "object",
				"required": ["name", "version"],
				"properties": {"name": {"type": "string"}, "version": {"type": "string"}}
			},
			"instructions": {"type": "string"}
		}
	}`,
	mcp.PingMethod: `{"type": "object"}`,
	mcp.ToolsListMethod: `{
		"type": "object",
		"required": ["tools"],
		"properties": {
			"tools": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name", "inputSchema"],
					"properties": {
						"name": {"type": "string"},
						"description": {"type": "string"},
						"inputSchema": {"type": "object"}
					}
				}
			},
			"nextCursor": {"type": "string"}
		}
	}`,
	mcp.ToolsCallMethod: `{
		"type": "object",
		"required": ["content"],
		"properties": {
			"content": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["type"],
					"properties": {"type": {"type": "string"}, "text": {"type": "string"}}
				}
			},
			"isError": {"type": "boolean"}
		}
	}`,
	mcp.ResourcesListMethod: `{
		"type": "object",
		"required": ["resources"],
		"properties": {
			"resources": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["uri", "name"],
					"properties": {"uri": {"type": "string"}, "name": {"type": "string"}}
				}
			},
			"nextCursor": {"type": "string"}
		}
	}`,
	mcp.ResourcesTemplatesListMethod: `{
		"type": "object",
		"required": ["resourceTemplates"],
		"properties": {
			"resourceTemplates": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["uriTemplate", "name"],
					"properties": {"uriTemplate": {"type": "string"}, "name": {"type": "string"}}
				}
			},
			"nextCursor": {"type": "string"}
		}
	}`,
	mcp.ResourcesReadMethod: `{
		"type": "object",
		"required": ["contents"],
		"properties": {
			"contents": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["uri"],
					"properties": {
						"uri": {"type": "string"},
						"mimeType": {"type": "string"},
						"text": {"type": "string"},
						"blob": {"type": "string"}
					}
				}
			}
		}
	}`,
	mcp.PromptsListMethod: `{
		"type": "object",
		"required": ["prompts"],
		"properties": {
			"prompts": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string"},
						"arguments": {
							"type": "array",
							"items": {"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}
						}
					}
				}
			},
			"nextCursor": {"type": "string"}
		}
	}`,
	mcp.PromptsGetMethod: `{
		"type": "object",
		"required": ["messages"],
		"properties": {
			"description": {"type": "string"},
			"messages": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["role", "content"],
					"properties": {
						"role": {"enum": ["user", "assistant"]},
						"content": {"type": "object", "required": ["type"], "properties": {"type": {"type": "string"}}}
					}
				}
			}
		}
	}`,
}

var resolvedSchemas = mustResolveSchemas(resultSchemas)

func mustResolveSchemas(src map[mcp.Method]string) map[mcp.Method]*validator.Resolved {
	out := make(map[mcp.Method]*validator.Resolved, len(src))
	for method, raw := range src {
		var s validator.Schema
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			panic(fmt.Sprintf("mcpclient: load %s result schema: %v", method, err))
		}
		resolved, err := s.Resolve(nil)
		if err != nil {
			panic(fmt.Sprintf("mcpclient: resolve %s result schema: %v", method, err))
		}
		out[method] = resolved
	}
	return out
}

// decodeResult validates raw against the method's schema and decodes it
// into T.
func decodeResult[T any](method mcp.Method, raw json.RawMessage) (*T, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, &ParseError{Method: string(method), Err: err}
	}
	if s, ok := resolvedSchemas[method]; ok {
		if err := s.Validate(instance); err != nil {
			return nil, &ParseError{Method: string(method), Err: err}
		}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ParseError{Method: string(method), Err: err}
	}
	return &out, nil
}
