package openapi

import (
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

type RouteBuilder struct {
	openapi   *OpenAPI
	method    string
	path      string
	operation *openapi3.Operation
}

func (rb *RouteBuilder) Summary(summary string) *RouteBuilder {
	rb.operation.Summary = summary
	return rb
}

func (rb *RouteBuilder) Description(description string) *RouteBuilder {
	rb.operation.Description = description
	return rb
}

func (rb *RouteBuilder) OperationID(id string) *RouteBuilder {
	rb.operation.OperationID = id
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.operation.Tags = append(rb.operation.Tags, tags...)
	return rb
}

func (rb *RouteBuilder) CookieParam(name, description string, required bool) *RouteBuilder {
	rb.operation.AddParameter(&openapi3.Parameter{
		Name:        name,
		In:          openapi3.ParameterInCookie,
		Description: description,
		Required:    required,
		Schema:      &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
	})
	return rb
}

func (rb *RouteBuilder) Body(example any, description string) *RouteBuilder {
	rb.operation.RequestBody = &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithDescription(description).
			WithRequired(true).
			WithJSONSchemaRef(rb.openapi.generateSchema(example)),
	}
	return rb
}

// Response documents statusCode. A nil example documents an empty body.
func (rb *RouteBuilder) Response(statusCode int, example any, description string) *RouteBuilder {
	resp := openapi3.NewResponse().WithDescription(description)
	if example != nil {
		resp.Content = openapi3.NewContentWithJSONSchemaRef(rb.openapi.generateSchema(example))
	}
	rb.operation.AddResponse(statusCode, resp)
	return rb
}

func (rb *RouteBuilder) ResponseHeader(statusCode int, name, description string) *RouteBuilder {
	resp := rb.operation.Responses.Value(strconv.Itoa(statusCode))
	if resp == nil || resp.Value == nil {
		return rb
	}
	if resp.Value.Headers == nil {
		resp.Value.Headers = make(openapi3.Headers)
	}
	resp.Value.Headers[name] = &openapi3.HeaderRef{Value: &openapi3.Header{
		Parameter: openapi3.Parameter{
			Description: description,
			Schema:      &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
		},
	}}
	return rb
}

// Security adds one alternative requirement per scheme.
func (rb *RouteBuilder) Security(schemes ...string) *RouteBuilder {
	if rb.operation.Security == nil {
		rb.operation.Security = openapi3.NewSecurityRequirements()
	}
	for _, scheme := range schemes {
		rb.operation.Security.With(openapi3.NewSecurityRequirement().Authenticate(scheme))
	}
	return rb
}

func (rb *RouteBuilder) NoSecurity() *RouteBuilder {
	rb.operation.Security = openapi3.NewSecurityRequirements()
	return rb
}

func (rb *RouteBuilder) Build() {
	rb.openapi.addOperation(rb.method, rb.path, rb.operation)
}
