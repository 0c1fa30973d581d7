package customdata

import (
	"encoding/json"
	"fmt"

	"github.com/99designs/gqlgen/graphql/introspection"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/rpattn/customdata/internal/transformer"
)

// introspect answers an operation made only of meta fields from the virtual
// schema. The backend never sees it, since it only knows the native schema.
func introspect(schema *ast.Schema, op *ast.OperationDefinition, variables map[string]any) (json.RawMessage, error) {
	in := &introspector{schema: schema, variables: variables}
	root := schema.Query
	if op.Operation == ast.Mutation {
		root = schema.Mutation
	}
	if root == nil {
		return nil, fmt.Errorf("schema does not support %s operations", op.Operation)
	}

	data := transformer.NewObject()
	for _, f := range in.collect(op.SelectionSet, root.Name) {
		switch f.Name {
		case "__typename":
			data.Set(f.Alias, root.Name)
		case "__schema":
			data.Set(f.Alias, in.schemaObject(introspection.WrapSchema(schema), f.SelectionSet))
		case "__type":
			name, _ := f.ArgumentMap(variables)["name"].(string)
			def := schema.Types[name]
			if def == nil {
				data.Set(f.Alias, nil)
				continue
			}
			data.Set(f.Alias, in.typeObject(introspection.WrapTypeFromDef(schema, def), f.SelectionSet))
		}
	}
	return json.Marshal(data)
}

type introspector struct {
	schema    *ast.Schema
	variables map[string]any
}

// collect flattens fragments into an ordered field list. Fields sharing a
// response key are merged.
func (in *introspector) collect(set ast.SelectionSet, typename string) []*ast.Field {
	var fields []*ast.Field
	byKey := make(map[string]*ast.Field)

	var visit func(set ast.SelectionSet)
	visit = func(set ast.SelectionSet) {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if !in.included(s.Directives) {
					continue
				}
				if prev, ok := byKey[s.Alias]; ok {
					prev.SelectionSet = append(prev.SelectionSet, s.SelectionSet...)
					continue
				}
				merged := *s
				merged.SelectionSet = append(ast.SelectionSet(nil), s.SelectionSet...)
				byKey[s.Alias] = &merged
				fields = append(fields, &merged)
			case *ast.InlineFragment:
				if in.included(s.Directives) && (s.TypeCondition == "" || s.TypeCondition == typename) {
					visit(s.SelectionSet)
				}
			case *ast.FragmentSpread:
				if in.included(s.Directives) && s.Definition != nil && s.Definition.TypeCondition == typename {
					visit(s.Definition.SelectionSet)
				}
			}
		}
	}
	visit(set)
	return fields
}

func (in *introspector) included(directives ast.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(in.variables)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(in.variables)["if"].(bool); !include {
			return false
		}
	}
	return true
}

func (in *introspector) includeDeprecated(f *ast.Field) bool {
	v, _ := f.ArgumentMap(in.variables)["includeDeprecated"].(bool)
	return v
}

func (in *introspector) schemaObject(s *introspection.Schema, set ast.SelectionSet) *transformer.Object {
	obj := transformer.NewObject()
	for _, f := range in.collect(set, "__Schema") {
		switch f.Name {
		case "__typename":
			obj.Set(f.Alias, "__Schema")
		case "description":
			obj.Set(f.Alias, optional(s.Description()))
		case "types":
			types := s.Types()
			list := make([]any, len(types))
			for i := range types {
				list[i] = in.typeObject(&types[i], f.SelectionSet)
			}
			obj.Set(f.Alias, list)
		case "queryType":
			obj.Set(f.Alias, in.typeObject(s.QueryType(), f.SelectionSet))
		case "mutationType":
			obj.Set(f.Alias, in.typeObject(s.MutationType(), f.SelectionSet))
		case "subscriptionType":
			obj.Set(f.Alias, in.typeObject(s.SubscriptionType(), f.SelectionSet))
		case "directives":
			directives := s.Directives()
			list := make([]any, len(directives))
			for i := range directives {
				list[i] = in.directiveObject(&directives[i], f.SelectionSet)
			}
			obj.Set(f.Alias, list)
		default:
			obj.Set(f.Alias, nil)
		}
	}
	return obj
}

func (in *introspector) typeObject(t *introspection.Type, set ast.SelectionSet) any {
	if t == nil {
		return nil
	}
	obj := transformer.NewObject()
	for _, f := range in.collect(set, "__Type") {
		switch f.Name {
		case "__typename":
			obj.Set(f.Alias, "__Type")
		case "kind":
			obj.Set(f.Alias, t.Kind())
		case "name":
			obj.Set(f.Alias, optional(t.Name()))
		case "description":
			obj.Set(f.Alias, optional(t.Description()))
		case "specifiedByURL":
			obj.Set(f.Alias, optional(t.SpecifiedByURL()))
		case "fields":
			fields := t.Fields(in.includeDeprecated(f))
			if fields == nil {
				obj.Set(f.Alias, nil)
				continue
			}
			list := make([]any, len(fields))
			for i := range fields {
				list[i] = in.fieldObject(&fields[i], f.SelectionSet)
			}
			obj.Set(f.Alias, list)
		case "interfaces":
			obj.Set(f.Alias, in.typeList(t.Interfaces(), f.SelectionSet))
		case "possibleTypes":
			obj.Set(f.Alias, in.typeList(t.PossibleTypes(), f.SelectionSet))
		case "enumValues":
			values := t.EnumValues(in.includeDeprecated(f))
			if values == nil {
				obj.Set(f.Alias, nil)
				continue
			}
			list := make([]any, len(values))
			for i := range values {
				list[i] = in.enumValueObject(&values[i], f.SelectionSet)
			}
			obj.Set(f.Alias, list)
		case "inputFields":
			values := t.InputFields()
			if values == nil {
				obj.Set(f.Alias, nil)
				continue
			}
			obj.Set(f.Alias, in.inputValueList(values, f.SelectionSet))
		case "ofType":
			obj.Set(f.Alias, in.typeObject(t.OfType(), f.SelectionSet))
		case "isOneOf":
			obj.Set(f.Alias, false)
		default:
			obj.Set(f.Alias, nil)
		}
	}
	return obj
}

func (in *introspector) typeList(types []introspection.Type, set ast.SelectionSet) any {
	if types == nil {
		return nil
	}
	list := make([]any, len(types))
	for i := range types {
		list[i] = in.typeObject(&types[i], set)
	}
	return list
}

func (in *introspector) fieldObject(field *introspection.Field, set ast.SelectionSet) *transformer.Object {
	obj := transformer.NewObject()
	for _, f := range in.collect(set, "__Field") {
		switch f.Name {
		case "__typename":
			obj.Set(f.Alias, "__Field")
		case "name":
			obj.Set(f.Alias, field.Name)
		case "description":
			obj.Set(f.Alias, optional(field.Description()))
		case "args":
			obj.Set(f.Alias, in.inputValueList(field.Args, f.SelectionSet))
		case "type":
			obj.Set(f.Alias, in.typeObject(field.Type, f.SelectionSet))
		case "isDeprecated":
			obj.Set(f.Alias, field.IsDeprecated())
		case "deprecationReason":
			obj.Set(f.Alias, optional(field.DeprecationReason()))
		default:
			obj.Set(f.Alias, nil)
		}
	}
	return obj
}

func (in *introspector) inputValueList(values []introspection.InputValue, set ast.SelectionSet) []any {
	list := make([]any, len(values))
	for i := range values {
		value := &values[i]
		obj := transformer.NewObject()
		for _, f := range in.collect(set, "__InputValue") {
			switch f.Name {
			case "__typename":
				obj.Set(f.Alias, "__InputValue")
			case "name":
				obj.Set(f.Alias, value.Name)
			case "description":
				obj.Set(f.Alias, optional(value.Description()))
			case "type":
				obj.Set(f.Alias, in.typeObject(value.Type, f.SelectionSet))
			case "defaultValue":
				obj.Set(f.Alias, optional(value.DefaultValue))
			case "isDeprecated":
				obj.Set(f.Alias, false)
			default:
				obj.Set(f.Alias, nil)
			}
		}
		list[i] = obj
	}
	return list
}

func (in *introspector) enumValueObject(value *introspection.EnumValue, set ast.SelectionSet) *transformer.Object {
	obj := transformer.NewObject()
	for _, f := range in.collect(set, "__EnumValue") {
		switch f.Name {
		case "__typename":
			obj.Set(f.Alias, "__EnumValue")
		case "name":
			obj.Set(f.Alias, value.Name)
		case "description":
			obj.Set(f.Alias, optional(value.Description()))
		case "isDeprecated":
			obj.Set(f.Alias, value.IsDeprecated())
		case "deprecationReason":
			obj.Set(f.Alias, optional(value.DeprecationReason()))
		default:
			obj.Set(f.Alias, nil)
		}
	}
	return obj
}

func (in *introspector) directiveObject(d *introspection.Directive, set ast.SelectionSet) *transformer.Object {
	obj := transformer.NewObject()
	for _, f := range in.collect(set, "__Directive") {
		switch f.Name {
		case "__typename":
			obj.Set(f.Alias, "__Directive")
		case "name":
			obj.Set(f.Alias, d.Name)
		case "description":
			obj.Set(f.Alias, optional(d.Description()))
		case "locations":
			obj.Set(f.Alias, d.Locations)
		case "args":
			obj.Set(f.Alias, in.inputValueList(d.Args, f.SelectionSet))
		case "isRepeatable":
			obj.Set(f.Alias, d.IsRepeatable)
		default:
			obj.Set(f.Alias, nil)
		}
	}
	return obj
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
