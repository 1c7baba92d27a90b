package openapi

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

func (o *OpenAPI) generateSchema(example any) *openapi3.SchemaRef {
	o.mu.Lock()
	defer o.mu.Unlock()

	if example == nil {
		return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()}
	}
	return o.schemaFor(reflect.TypeOf(example), make(map[reflect.Type]bool))
}

func typeKey(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func (o *OpenAPI) schemaFor(t reflect.Type, visiting map[reflect.Type]bool) *openapi3.SchemaRef {
	if t.Kind() == reflect.Pointer {
		inner := o.schemaFor(t.Elem(), visiting)
		if inner.Ref != "" {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{AllOf: openapi3.SchemaRefs{inner}, Nullable: true}}
		}
		inner.Value.Nullable = true
		return inner
	}

	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: openapi3.NewStringSchema()}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema().WithMin(0)}
	case reflect.Float32, reflect.Float64:
		return &openapi3.SchemaRef{Value: openapi3.NewFloat64Schema()}
	case reflect.Bool:
		return &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()}
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{openapi3.TypeArray},
			Items: o.schemaFor(t.Elem(), visiting),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{openapi3.TypeObject},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: o.schemaFor(t.Elem(), visiting)},
		}}
	case reflect.Struct:
		return o.structRef(t, visiting)
	default:
		return &openapi3.SchemaRef{Value: openapi3.NewObjectSchema()}
	}
}

// structRef registers named structs under components/schemas and refers to
// them. Name clashes across packages get a numeric suffix.
func (o *OpenAPI) structRef(t reflect.Type, visiting map[reflect.Type]bool) *openapi3.SchemaRef {
	if t.PkgPath() == "time" && t.Name() == "Time" {
		return &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()}
	}
	if t.Name() == "" {
		return &openapi3.SchemaRef{Value: o.structSchema(t, visiting)}
	}

	key := typeKey(t)
	if name, ok := o.schemaRegistry[key]; ok {
		return openapi3.NewSchemaRef("#/components/schemas/"+name, o.schemaValues[name])
	}

	name := t.Name()
	for suffix := 2; ; suffix++ {
		if existing, taken := o.schemaNameRegistry[name]; !taken || existing == key {
			break
		}
		name = t.Name() + strconv.Itoa(suffix)
	}
	// registered before the fields are walked so self references resolve
	// to the same value
	schema := &openapi3.Schema{}
	o.schemaRegistry[key] = name
	o.schemaNameRegistry[name] = key
	o.schemaValues[name] = schema

	if o.spec.Components.Schemas == nil {
		o.spec.Components.Schemas = make(openapi3.Schemas)
	}
	o.spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: schema}
	*schema = *o.structSchema(t, visiting)

	return openapi3.NewSchemaRef("#/components/schemas/"+name, schema)
}

func (o *OpenAPI) structSchema(t reflect.Type, visiting map[reflect.Type]bool) *openapi3.Schema {
	if visiting[t] {
		return openapi3.NewObjectSchema()
	}
	visiting[t] = true
	defer delete(visiting, t)

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{openapi3.TypeObject},
		Properties: make(openapi3.Schemas),
	}

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}

		ref := o.schemaFor(field.Type, visiting)
		doc, example := field.Tag.Get("doc"), field.Tag.Get("example")
		if doc != "" || example != "" {
			if ref.Ref != "" {
				ref = &openapi3.SchemaRef{Value: &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref}}}
			}
			if doc != "" {
				ref.Value.Description = doc
			}
			if example != "" {
				ref.Value.Example = example
			}
		}
		schema.Properties[name] = ref

		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema
}
