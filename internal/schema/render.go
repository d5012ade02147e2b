package schema

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Render prints s as SDL with types and directives sorted by name. Built-in
// scalars and directives are left out. Default values are printed against
// their declared type, so enum defaults come out unquoted.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	r := &renderer{s: s}
	r.schemaBlock()
	for _, name := range slices.Sorted(maps.Keys(s.Types)) {
		if IsBuiltin(name) {
			continue
		}
		r.typ(s.Types[name])
	}
	for _, name := range slices.Sorted(maps.Keys(s.Directives)) {
		if isBuiltinDirective(name) {
			continue
		}
		r.directive(s.Directives[name])
	}
	return strings.TrimRight(r.b.String(), "\n") + "\n"
}

type renderer struct {
	b strings.Builder
	s *Schema
}

const indent = "    "

func (r *renderer) printf(format string, args ...any) {
	fmt.Fprintf(&r.b, format, args...)
}

// schemaBlock is only needed when the roots use non-default names.
func (r *renderer) schemaBlock() {
	roots := [][2]string{
		{"query", r.s.QueryType},
		{"mutation", r.s.MutationType},
		{"subscription", r.s.SubscriptionType},
	}
	custom := false
	for _, root := range roots {
		if root[1] != "" && !strings.EqualFold(root[0], root[1]) {
			custom = true
		}
	}
	if !custom {
		return
	}
	r.description(r.s.Description, "")
	r.printf("schema {\n")
	for _, root := range roots {
		if root[1] != "" {
			r.printf("%s%s: %s\n", indent, root[0], root[1])
		}
	}
	r.printf("}\n\n")
}

func (r *renderer) typ(t *Type) {
	r.description(t.Description, "")
	switch t.Kind {
	case TypeKindScalar:
		r.printf("scalar %s", t.Name)
		if t.SpecifiedByURL != nil {
			r.printf(" @specifiedBy(url: %s)", strconv.Quote(*t.SpecifiedByURL))
		}
		r.printf("\n\n")
	case TypeKindUnion:
		r.printf("union %s = %s\n\n", t.Name, strings.Join(t.PossibleTypes, " | "))
	case TypeKindEnum:
		r.printf("enum %s {\n", t.Name)
		for _, v := range t.EnumValues {
			r.description(v.Description, indent)
			r.printf("%s%s%s\n", indent, v.Name, deprecated(v.IsDeprecated, v.DeprecationReason))
		}
		r.printf("}\n\n")
	case TypeKindInputObject:
		r.printf("input %s", t.Name)
		if t.OneOf {
			r.printf(" @oneOf")
		}
		r.printf(" {\n")
		for _, f := range t.InputFields {
			r.description(f.Description, indent)
			r.printf("%s%s%s\n", indent, r.inputValue(f), deprecated(f.IsDeprecated, f.DeprecationReason))
		}
		r.printf("}\n\n")
	case TypeKindObject, TypeKindInterface:
		keyword := "type"
		if t.Kind == TypeKindInterface {
			keyword = "interface"
		}
		r.printf("%s %s", keyword, t.Name)
		if len(t.Interfaces) > 0 {
			r.printf(" implements %s", strings.Join(t.Interfaces, " & "))
		}
		r.printf(" {\n")
		for _, f := range t.Fields {
			r.description(f.Description, indent)
			r.printf("%s%s%s: %s%s\n", indent, f.Name, r.arguments(f.Arguments), f.Type, deprecated(f.IsDeprecated, f.DeprecationReason))
		}
		r.printf("}\n\n")
	}
}

func (r *renderer) directive(d *Directive) {
	r.description(d.Description, "")
	r.printf("directive @%s%s", d.Name, r.arguments(d.Arguments))
	if d.IsRepeatable {
		r.printf(" repeatable")
	}
	r.printf(" on %s\n\n", strings.Join(d.Locations, " | "))
}

func (r *renderer) arguments(args []*InputValue) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = r.inputValue(a) + deprecated(a.IsDeprecated, a.DeprecationReason)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (r *renderer) inputValue(v *InputValue) string {
	out := v.Name + ": " + v.Type.String()
	if v.DefaultValue != nil {
		out += " = " + r.value(v.DefaultValue, v.Type)
	}
	return out
}

// Literal prints v as a GraphQL literal of type t, resolving enum and input
// object types against s.
func Literal(s *Schema, v any, t *TypeRef) string {
	r := &renderer{s: s}
	return r.value(v, t)
}

// value prints a Go value as a GraphQL literal of type t.
func (r *renderer) value(v any, t *TypeRef) string {
	for t != nil && t.IsNonNull() {
		t = t.OfType
	}
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		if def := r.named(t); def != nil && def.Kind == TypeKindEnum {
			return x
		}
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case json.Number:
		return x.String()
	case []any:
		var item *TypeRef
		if t != nil && t.IsList() {
			item = t.OfType
		}
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = r.value(e, item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		def := r.named(t)
		parts := make([]string, 0, len(x))
		for _, k := range slices.Sorted(maps.Keys(x)) {
			var ft *TypeRef
			if def != nil {
				if i := slices.IndexFunc(def.InputFields, func(f *InputValue) bool { return f.Name == k }); i >= 0 {
					ft = def.InputFields[i].Type
				}
			}
			parts = append(parts, k+": "+r.value(x[k], ft))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}

func (r *renderer) named(t *TypeRef) *Type {
	if r.s == nil || t == nil || t.Kind != TypeRefKindNamed {
		return nil
	}
	return r.s.Types[t.Named]
}

func (r *renderer) description(desc, prefix string) {
	if desc == "" {
		return
	}
	desc = strings.ReplaceAll(desc, `"""`, `\"""`)
	r.printf("%s\"\"\"\n", prefix)
	for _, line := range strings.Split(desc, "\n") {
		r.printf("%s%s\n", prefix, line)
	}
	r.printf("%s\"\"\"\n", prefix)
}

func deprecated(is bool, reason string) string {
	switch {
	case !is:
		return ""
	case reason == "":
		return " @deprecated"
	}
	return " @deprecated(reason: " + strconv.Quote(reason) + ")"
}
