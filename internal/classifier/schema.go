package classifier

import (
	"strings"

	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/sdl"
)

// ClassifyType returns the SDL fragment for a wire type name, declaring any
// object types it needs in schema. Types that cannot be classified produce a
// placeholder scalar named Unmapped<Type> and a warning.
func (r *Registry) ClassifyType(typeName string, schema *sdl.Schema) string {
	def, err := r.types.Resolve(typeName)
	if err != nil {
		return r.unmapped(typeName, err.Error(), schema)
	}
	return r.classify(typeName, def, schema)
}

// ClassifyDef is ClassifyType for an already resolved definition.
func (r *Registry) ClassifyDef(def *codec.TypeDef, schema *sdl.Schema) string {
	return r.classify(def.Name, def, schema)
}

func (r *Registry) classify(typeName string, def *codec.TypeDef, schema *sdl.Schema) string {
	for _, m := range r.scalars {
		if m.Match(def) {
			if m.Custom {
				schema.RequireScalar(m.SDL)
			}
			return m.SDL
		}
	}
	if h, ok := r.shapes[def.Kind]; ok {
		return h(r, def, schema)
	}
	switch def.Kind {
	case codec.KindStruct:
		return r.structSDL(def, schema)
	case codec.KindTuple:
		return r.tupleSDL(def, schema)
	case codec.KindEnum:
		return r.enumSDL(def, schema)
	case codec.KindVec:
		return "[" + r.ClassifyType(def.Elem, schema) + "]"
	case codec.KindFixed:
		return "[" + r.ClassifyType(def.Elem, schema) + "]"
	case codec.KindOption, codec.KindCompact:
		return r.ClassifyType(def.Elem, schema)
	case codec.KindBool, codec.KindUint, codec.KindInt, codec.KindMoment, codec.KindText,
		codec.KindBytes, codec.KindAccountID, codec.KindHash, codec.KindNull:
		return r.unmapped(typeName, "no scalar mapping for "+def.Kind.String(), schema)
	}
	return r.unmapped(typeName, "unknown shape", schema)
}

func (r *Registry) unmapped(typeName, reason string, schema *sdl.Schema) string {
	name := "Unmapped" + TypeName(typeName)
	schema.RequireScalar(name)
	r.warn(typeName, reason)
	return name
}

func (r *Registry) structSDL(def *codec.TypeDef, schema *sdl.Schema) string {
	name := TypeName(def.Name)
	if schema.HasType(name) {
		return name
	}
	if name == EnumInterface {
		return r.unmapped(def.Name, "name is taken by the "+EnumInterface+" interface", schema)
	}
	t := schema.DeclareType(name)
	for _, m := range def.Members {
		t.Field(FieldName(m.Name), r.ClassifyType(m.Type, schema))
	}
	return name
}

// TupleName is the deterministic type name for a tuple of the given member types.
func TupleName(members []string) string {
	var b strings.Builder
	for _, m := range members {
		b.WriteString(TypeName(m))
	}
	b.WriteString("Tuple")
	return b.String()
}

// TupleField is the key used for a tuple member. Members of the same type share
// one key and the later value wins.
func TupleField(memberType string) string {
	return lowerFirst(TypeName(memberType))
}

func (r *Registry) tupleSDL(def *codec.TypeDef, schema *sdl.Schema) string {
	members := def.MemberTypes()
	name := TupleName(members)
	if schema.HasType(name) {
		return name
	}
	t := schema.DeclareType(name)
	for _, m := range members {
		t.Field(TupleField(m), r.ClassifyType(m, schema))
	}
	return name
}

func (r *Registry) enumSDL(def *codec.TypeDef, schema *sdl.Schema) string {
	name := TypeName(def.Name)
	if schema.HasType(name) {
		return name
	}
	if name == EnumInterface {
		return r.unmapped(def.Name, "name is taken by the "+EnumInterface+" interface", schema)
	}
	if !schema.HasInterface(EnumInterface) {
		schema.DeclareInterface(EnumInterface).Field(EnumTypeField, "String")
	}
	t := schema.DeclareType(name, EnumInterface)
	for _, m := range def.Members {
		t.Field(m.Name, r.ClassifyType(m.Type, schema))
	}
	t.Field(EnumTypeField, "String")
	return name
}

// TypeName strips characters GraphQL does not allow in names.
func TypeName(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
			b.WriteRune(c)
		case c >= '0' && c <= '9':
			if b.Len() == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(c)
		}
	}
	return b.String()
}

// FieldName converts snake_case struct members to the camelCase keys used in
// the schema and in serialized objects.
func FieldName(member string) string {
	parts := strings.Split(member, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString(lowerFirst(p))
			continue
		}
		if i > 0 {
			b.WriteString(strings.ToUpper(p[:1]) + p[1:])
		}
	}
	if b.Len() == 0 {
		return member
	}
	return b.String()
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// UpperFirst upper-cases the first letter.
func UpperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LowerFirst lower-cases the first letter.
func LowerFirst(s string) string { return lowerFirst(s) }
