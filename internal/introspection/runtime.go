// Package introspection answers __schema and __type queries from the
// assembled schema and forwards every other field to the wrapped runtime.
package introspection

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	executor "github.com/hanpama/chaingraph/internal/executor"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// IntrospectionWrapper pairs the wrapping runtime with the schema to execute
// against, which carries the meta fields on its query type.
type IntrospectionWrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap adds introspection to base. Types, fields and directives are listed
// in the order the schema declares them; the type and directive lists are
// sorted by name.
func Wrap(base executor.Runtime, sch *schema.Schema) *IntrospectionWrapper {
	return &IntrospectionWrapper{
		Runtime: &runtime{base: base, sch: sch},
		Schema:  extend(sch),
	}
}

type runtime struct {
	base executor.Runtime
	sch  *schema.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch {
	case strings.HasPrefix(objectType, "__"):
		return r.meta(objectType, field, source, args)
	case objectType == r.sch.QueryType && field == "__schema":
		return r.sch, nil
	case objectType == r.sch.QueryType && field == "__type":
		name, _ := args["name"].(string)
		if t := r.lookup(name); t != nil {
			return t, nil
		}
		return nil, nil
	}
	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	return r.base.SerializeLeafValue(ctx, typ, value)
}

func (r *runtime) meta(objectType, field string, source any, args map[string]any) (any, error) {
	var (
		v  any
		ok bool
	)
	switch src := source.(type) {
	case *schema.Schema:
		v, ok = r.schemaField(src, field)
	case *schema.Type:
		v, ok = r.typeField(src, field, args)
	case *schema.TypeRef:
		v, ok = r.wrapperField(src, field)
	case *schema.Field:
		v, ok = r.fieldField(src, field, args)
	case *schema.InputValue:
		v, ok = r.inputValueField(src, field)
	case *schema.EnumValue:
		v, ok = enumValueField(src, field)
	case *schema.Directive:
		v, ok = r.directiveField(src, field, args)
	}
	if !ok {
		return nil, fmt.Errorf("introspection: %s.%s is not supported", objectType, field)
	}
	return v, nil
}

func (r *runtime) lookup(name string) *schema.Type {
	if t := r.sch.Types[name]; t != nil {
		return t
	}
	for _, t := range schema.IntrospectionTypes() {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// typeOf maps a reference to what __Type resolves against: the named type
// itself, or the wrapper for lists and non-nulls.
func (r *runtime) typeOf(ref *schema.TypeRef) any {
	if ref.Kind == schema.TypeRefKindNamed {
		if t := r.lookup(ref.Named); t != nil {
			return t
		}
		return nil
	}
	return ref
}

func (r *runtime) schemaField(s *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return optional(s.Description), true
	case "types":
		types := slices.Collect(maps.Values(s.Types))
		types = append(types, schema.IntrospectionTypes()...)
		slices.SortFunc(types, func(a, b *schema.Type) int { return cmp.Compare(a.Name, b.Name) })
		return types, true
	case "queryType":
		return s.GetQueryType(), true
	case "mutationType":
		return s.GetMutationType(), true
	case "subscriptionType":
		return s.GetSubscriptionType(), true
	case "directives":
		dirs := slices.Collect(maps.Values(s.Directives))
		slices.SortFunc(dirs, func(a, b *schema.Directive) int { return cmp.Compare(a.Name, b.Name) })
		return dirs, true
	}
	return nil, false
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) (any, bool) {
	deprecated := includeDeprecated(args)
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL":
		return t.SpecifiedByURL, true
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return t.OneOf, true
	case "ofType":
		return nil, true
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		return visible(t.Fields, deprecated, func(f *schema.Field) bool { return f.IsDeprecated }), true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return visible(t.InputFields, deprecated, func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		return visible(t.EnumValues, deprecated, func(v *schema.EnumValue) bool { return v.IsDeprecated }), true
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		return r.named(t.Interfaces), true
	case "possibleTypes":
		switch t.Kind {
		case schema.TypeKindUnion:
			return r.named(t.PossibleTypes), true
		case schema.TypeKindInterface:
			return r.implementations(t.Name), true
		}
		return nil, true
	}
	return nil, false
}

func (r *runtime) wrapperField(ref *schema.TypeRef, field string) (any, bool) {
	switch field {
	case "kind":
		return string(ref.Kind), true
	case "ofType":
		return r.typeOf(ref.OfType), true
	case "name", "description", "specifiedByURL", "fields", "inputFields",
		"enumValues", "interfaces", "possibleTypes", "isOneOf":
		return nil, true
	}
	return nil, false
}

func (r *runtime) fieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optional(f.Description), true
	case "args":
		return visible(f.Arguments, includeDeprecated(args), func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	case "type":
		return r.typeOf(f.Type), true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return reason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func (r *runtime) inputValueField(v *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "type":
		return r.typeOf(v.Type), true
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, true
		}
		lit := schema.Literal(r.sch, v.DefaultValue, v.Type)
		return &lit, true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func enumValueField(v *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func (r *runtime) directiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optional(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		return d.Locations, true
	case "args":
		return visible(d.Arguments, includeDeprecated(args), func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	}
	return nil, false
}

func (r *runtime) named(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, n := range names {
		if t := r.lookup(n); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (r *runtime) implementations(iface string) []*schema.Type {
	var out []*schema.Type
	for _, t := range r.sch.Types {
		if t.Kind == schema.TypeKindObject && slices.Contains(t.Interfaces, iface) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b *schema.Type) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func visible[T any](items []T, withDeprecated bool, isDeprecated func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if withDeprecated || !isDeprecated(it) {
			out = append(out, it)
		}
	}
	return out
}

func includeDeprecated(args map[string]any) bool {
	b, _ := args["includeDeprecated"].(bool)
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func reason(deprecated bool, r string) *string {
	if !deprecated {
		return nil
	}
	return &r
}
