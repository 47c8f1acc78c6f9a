// Package openapi describes the portal's REST surface as an OpenAPI 3
// document, served at /openapi.json.
package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI document for the /api/v3 surface.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Flowadmin API",
			Description: "REST API for creating and dispatching BGP flowspec and RTBH rules.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "x-api-key",
		},
	}
	doc.Components.SecuritySchemes["accessToken"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "x-access-token",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"accessToken": {}},
	}

	doc.Components.Schemas["Rule"] = &openapi3.SchemaRef{Value: ruleSchema()}
	doc.Components.Schemas["RulePayload"] = &openapi3.SchemaRef{Value: payloadSchema()}
	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{Value: errorSchema()}

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/api/v3/test_token", &openapi3.PathItem{
		Get: operation("testToken", "Echo the caller's identity and permission level",
			respJSON(200, "Resolved identity")),
	})
	doc.Paths.Set("/api/v3/rules", &openapi3.PathItem{
		Get: operation("listRules", "List rules visible to the caller",
			respJSON(200, "Rule list")),
	})
	doc.Paths.Set("/api/v3/rules/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam()},
		Get: operation("getRule", "Fetch one rule",
			respJSON(200, "Rule"), respErr(404)),
		Delete: operation("deleteRule", "Withdraw a rule from all enforcement backends",
			respJSON(200, "Withdrawn"), respErr(403), respErr(404)),
	})
	for _, kind := range []string{"ipv4", "ipv6", "rtbh"} {
		doc.Paths.Set("/api/v3/rules/"+kind, &openapi3.PathItem{
			Post: createOp(kind),
		})
	}
	doc.Paths.Set("/api/v3/auth", &openapi3.PathItem{
		Get: operation("exchangeKey", "Exchange a machine key for a session token",
			respJSON(200, "Session token"), respErr(400)),
	})
	doc.Paths.Set("/api/v3/auth/session", &openapi3.PathItem{
		Post: operation("login", "Exchange email and password for a session token",
			respJSON(200, "Session token"), respErr(401)),
	})

	return doc
}

func createOp(kind string) *openapi3.Operation {
	op := operation("createRule"+kind, fmt.Sprintf("Create and dispatch an %s rule", kind),
		respJSON(201, "Rule created and dispatched"), respErr(400), respErr(403), respErr(502))
	op.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithJSONSchemaRef(
			openapi3.NewSchemaRef("#/components/schemas/RulePayload", nil)),
	}
	return op
}

func operation(id, summary string, responses ...*responseSpec) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Summary = summary
	op.Responses = openapi3.NewResponses()
	for _, r := range responses {
		desc := r.desc
		op.Responses.Set(fmt.Sprintf("%d", r.status), &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(desc),
		})
	}
	return op
}

type responseSpec struct {
	status int
	desc   string
}

func respJSON(status int, desc string) *responseSpec {
	return &responseSpec{status: status, desc: desc}
}

func respErr(status int) *responseSpec {
	desc := "Error"
	switch status {
	case 400:
		desc = "Validation failed"
	case 401:
		desc = "Authentication failed"
	case 403:
		desc = "Operation not permitted"
	case 404:
		desc = "Not found"
	case 502:
		desc = "Dispatch to enforcement backend failed"
	}
	return &responseSpec{status: status, desc: desc}
}

func idParam() *openapi3.ParameterRef {
	p := openapi3.NewPathParameter("id")
	p.Schema = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
	return &openapi3.ParameterRef{Value: p}
}

func ruleSchema() *openapi3.Schema {
	s := payloadSchema()
	s.Properties["id"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}
	s.Properties["kind"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"ipv4", "ipv6", "rtbh"}}}
	s.Properties["state"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: []interface{}{"active", "withdrawn", "expired"}}}
	s.Properties["dispatched"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
	s.Properties["expires_at"] = &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
	return s
}

func payloadSchema() *openapi3.Schema {
	str := func() *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	}
	number := func() *openapi3.SchemaRef {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
	}
	return &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"action":      number(),
			"protocol":    str(),
			"source":      str(),
			"source_mask": number(),
			"source_port": str(),
			"dest":        str(),
			"dest_mask":   number(),
			"dest_port":   str(),
			"packet_len":  str(),
			"flags":       str(),
			"community":   str(),
			"expires":     str(),
		},
	}
}

func errorSchema() *openapi3.Schema {
	return &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"error": &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"object"},
					Properties: openapi3.Schemas{
						"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
						"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
						"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
					},
				},
			},
		},
	}
}
