package api

import (
	"fmt"

	"github.com/mattjoyce/hostdispatch/internal/operation"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the dispatch API. Each
// operation gets its own path so clients can generate one call per operation.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness",
				"security":    []any{},
				"responses":   map[string]any{"200": map[string]any{"description": "OK"}},
			},
		},
		"/history/{dispatchID}": map[string]any{
			"get": secured("history_get", "Fetch one recorded dispatch", map[string]any{
				"200": map[string]any{"description": "Dispatch entry"},
				"404": map[string]any{"description": "Unknown dispatch"},
			}),
		},
		"/hosts/{host}/history": map[string]any{
			"get": secured("history_list", "Recent dispatches for a host", map[string]any{
				"200": map[string]any{"description": "Dispatch entries, newest first"},
			}),
		},
		"/events": map[string]any{
			"get": secured("events", "Server-sent dispatch events", map[string]any{
				"200": map[string]any{"description": "text/event-stream"},
			}),
		},
	}

	for _, kind := range operation.Kinds {
		op := secured("dispatch_"+string(kind), fmt.Sprintf("Run %s against a configured host", kind), map[string]any{
			"200": map[string]any{"description": "Merged dispatch record; failure is reported in-band"},
			"400": map[string]any{"description": "Bad request"},
			"404": map[string]any{"description": "Unknown host"},
			"429": map[string]any{"description": "Too many dispatches in flight"},
		})
		op["requestBody"] = map[string]any{
			"required": false,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"args": map[string]any{"type": "object"},
						},
					},
				},
			},
		}
		paths[fmt.Sprintf("/dispatch/{host}/%s", kind)] = map[string]any{"post": op}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hostdispatch",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func secured(id, summary string, responses map[string]any) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
}
