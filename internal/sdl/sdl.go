// Package sdl assembles GraphQL schema definition text from declarations that
// may be requested many times by recursive callers.
package sdl

import (
	"strings"
)

const indent = "    "

// Schema is an append-only collection of named declarations. Each name is
// declared at most once and emitted in first-declared order by Finish.
type Schema struct {
	decls   []declaration
	types   map[string]*TypeDef
	unions  map[string]*UnionDef
	scalars []string
	seen    map[string]struct{}

	conflicts []string
}

type declaration interface {
	write(b *strings.Builder)
}

// New returns an empty Schema.
func New() *Schema {
	return &Schema{
		types:  make(map[string]*TypeDef),
		unions: make(map[string]*UnionDef),
		seen:   make(map[string]struct{}),
	}
}

// DeclareType returns the pending object type declaration for name, creating it
// on first use. Interfaces passed on later calls are merged into the same
// declaration.
func (s *Schema) DeclareType(name string, implements ...string) *TypeDef {
	return s.declare("type", name, implements)
}

// DeclareInterface is DeclareType for interface declarations.
func (s *Schema) DeclareInterface(name string) *TypeDef {
	return s.declare("interface", name, nil)
}

// declare never hands out a declaration of the other keyword: on a mismatch
// the caller gets a detached TypeDef that Finish does not emit, and the name is
// reported by Conflicts.
func (s *Schema) declare(keyword, name string, implements []string) *TypeDef {
	t, ok := s.types[name]
	switch {
	case !ok:
		t = &TypeDef{keyword: keyword, name: name, fieldIndex: make(map[string]int)}
		s.types[name] = t
		s.decls = append(s.decls, t)
	case t.keyword != keyword:
		s.conflicts = append(s.conflicts, name)
		t = &TypeDef{keyword: keyword, name: name, fieldIndex: make(map[string]int)}
	}
	for _, iface := range implements {
		t.Implements(iface)
	}
	return t
}

// DeclareUnion returns the pending union declaration for name.
func (s *Schema) DeclareUnion(name string) *UnionDef {
	u, ok := s.unions[name]
	if !ok {
		u = &UnionDef{name: name}
		s.unions[name] = u
		s.decls = append(s.decls, u)
	}
	return u
}

// HasType reports whether an object type named name was declared.
func (s *Schema) HasType(name string) bool {
	t, ok := s.types[name]
	return ok && t.keyword == "type"
}

// HasInterface reports whether an interface named name was declared.
func (s *Schema) HasInterface(name string) bool {
	t, ok := s.types[name]
	return ok && t.keyword == "interface"
}

// HasUnion reports whether a union named name was declared.
func (s *Schema) HasUnion(name string) bool {
	_, ok := s.unions[name]
	return ok
}

// Conflicts returns the names that were declared both as an object type and
// as an interface, in the order the second declaration happened.
func (s *Schema) Conflicts() []string {
	return append([]string(nil), s.conflicts...)
}

// RequireScalar records a custom scalar. Scalars are emitted once each, after
// every type and union body.
func (s *Schema) RequireScalar(name string) {
	if _, ok := s.seen[name]; ok {
		return
	}
	s.seen[name] = struct{}{}
	s.scalars = append(s.scalars, name)
}

// HasScalar reports whether name was passed to RequireScalar.
func (s *Schema) HasScalar(name string) bool {
	_, ok := s.seen[name]
	return ok
}

// Scalars returns the required scalar names in registration order.
func (s *Schema) Scalars() []string {
	return append([]string(nil), s.scalars...)
}

// Finish renders the document. It can be called more than once; declarations
// added in between appear in the next rendering.
func (s *Schema) Finish() string {
	var b strings.Builder
	for _, d := range s.decls {
		d.write(&b)
		b.WriteString("\n")
	}
	for _, name := range s.scalars {
		b.WriteString("scalar ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// TypeDef is a pending `type` or `interface` declaration.
type TypeDef struct {
	keyword    string
	name       string
	implements []string
	fields     []field
	fieldIndex map[string]int
}

type field struct {
	name string
	line string
}

// Name returns the declared type name.
func (t *TypeDef) Name() string { return t.name }

// Implements adds an interface to the declaration once.
func (t *TypeDef) Implements(iface string) *TypeDef {
	for _, existing := range t.implements {
		if existing == iface {
			return t
		}
	}
	t.implements = append(t.implements, iface)
	return t
}

// Field adds `name: sdlType`. A second field with the same name replaces the
// first one in place.
func (t *TypeDef) Field(name, sdlType string) *TypeDef {
	return t.Declaration(name, name+": "+sdlType)
}

// Declaration adds a preformatted field line keyed by name, for fields that
// carry arguments.
func (t *TypeDef) Declaration(name, line string) *TypeDef {
	if i, ok := t.fieldIndex[name]; ok {
		t.fields[i].line = line
		return t
	}
	t.fieldIndex[name] = len(t.fields)
	t.fields = append(t.fields, field{name: name, line: line})
	return t
}

// HasField reports whether a field named name was added.
func (t *TypeDef) HasField(name string) bool {
	_, ok := t.fieldIndex[name]
	return ok
}

// Len returns the number of fields.
func (t *TypeDef) Len() int { return len(t.fields) }

func (t *TypeDef) write(b *strings.Builder) {
	b.WriteString(t.keyword)
	b.WriteString(" ")
	b.WriteString(t.name)
	if len(t.implements) > 0 {
		b.WriteString(" implements ")
		b.WriteString(strings.Join(t.implements, " & "))
	}
	b.WriteString(" {\n")
	for _, f := range t.fields {
		b.WriteString(indent)
		b.WriteString(f.line)
		b.WriteString("\n")
	}
	b.WriteString("}\n")
}

// UnionDef is a pending `union` declaration.
type UnionDef struct {
	name    string
	members []string
}

// Member adds a possible type once.
func (u *UnionDef) Member(name string) *UnionDef {
	for _, m := range u.members {
		if m == name {
			return u
		}
	}
	u.members = append(u.members, name)
	return u
}

func (u *UnionDef) write(b *strings.Builder) {
	b.WriteString("union ")
	b.WriteString(u.name)
	b.WriteString(" = ")
	b.WriteString(strings.Join(u.members, " | "))
	b.WriteString("\n")
}
