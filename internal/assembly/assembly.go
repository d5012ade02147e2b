// Package assembly turns chain module descriptors and the guest resolver tree
// into one GraphQL document, an executable schema, and the route table the
// resolver runtime dispatches on.
package assembly

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/bridge"
	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/metadata"
	"github.com/hanpama/chaingraph/internal/schema"
	"github.com/hanpama/chaingraph/internal/sdl"
)

const (
	QueryType = "Query"
	// BlockArg selects the block a module field reads from.
	BlockArg = "block"
	// ModuleSuffix is appended to the PascalCase module name.
	ModuleSuffix = "Module"
)

// RouteKind says how a schema field is resolved.
type RouteKind int

const (
	// RouteModule is a Query field selecting a module at a block.
	RouteModule RouteKind = iota + 1
	// RouteStorage is a Plain storage item on a module type.
	RouteStorage
	// RouteGroup is a guest namespace node; it resolves to a marker value.
	RouteGroup
	// RouteGuest is a guest resolver leaf.
	RouteGuest
)

func (k RouteKind) String() string {
	switch k {
	case RouteModule:
		return "module"
	case RouteStorage:
		return "storage"
	case RouteGroup:
		return "group"
	case RouteGuest:
		return "guest"
	}
	return fmt.Sprintf("RouteKind(%d)", int(k))
}

// Route binds one schema field to its data source.
type Route struct {
	Kind     RouteKind
	Module   *metadata.ModuleDescriptor
	Item     *metadata.StorageDescriptor
	Resolver *bridge.Resolver
	// Path is the guest namespace path of a group or leaf.
	Path []string
	// List reports whether a guest leaf returns a list.
	List bool
}

// Document is the result of a build.
type Document struct {
	SDL    string
	Schema *schema.Schema
	// Routes are keyed by "Type.field".
	Routes   map[string]Route
	Warnings []string
}

// Route looks up the route of typeName.field.
func (d *Document) Route(typeName, field string) (Route, bool) {
	r, ok := d.Routes[typeName+"."+field]
	return r, ok
}

type Option func(*Assembler)

func WithLogger(l *zap.Logger) Option { return func(a *Assembler) { a.log = l } }

// Assembler builds Documents from a shared classifier.
type Assembler struct {
	cls *classifier.Registry
	log *zap.Logger
}

func New(cls *classifier.Registry, opts ...Option) *Assembler {
	a := &Assembler{cls: cls, log: zap.NewNop()}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.Named("assembly")
	return a
}

type build struct {
	*Assembler
	sdl        *sdl.Schema
	query      *sdl.TypeDef
	routes     map[string]Route
	warnings   []string
	violations []*Violation
	owner      map[string]string
}

// Build generates the document for modules and the optional guest resolver
// tree. Modules contribute `<api>(block: BigInt = 0): <Name>Module` with one
// field per Plain storage item; guest leaves are placed on Query, nested in
// grouping types that mirror the resolver namespace.
func (a *Assembler) Build(modules []*metadata.ModuleDescriptor, resolvers *bridge.Namespace) (*Document, error) {
	b := &build{
		Assembler: a,
		sdl:       sdl.New(),
		routes:    make(map[string]Route),
		owner:     make(map[string]string),
	}
	b.query = b.sdl.DeclareType(QueryType)

	for _, m := range modules {
		b.module(m)
	}
	if resolvers != nil {
		b.guest(resolvers)
	}
	for _, name := range b.sdl.Conflicts() {
		b.violations = append(b.violations, violationKindConflict(name))
	}
	if len(b.violations) > 0 {
		return nil, ValidationError(b.violations)
	}
	if b.query.Len() == 0 {
		return nil, fmt.Errorf("nothing to serve: no queryable module and no guest resolver")
	}

	text := b.sdl.Finish()
	sch, err := schema.BuildFromSDL(text)
	if err != nil {
		return nil, fmt.Errorf("generated schema: %w", err)
	}
	for key, r := range b.routes {
		if r.Kind == RouteGroup {
			continue
		}
		typeName, field, _ := strings.Cut(key, ".")
		if f := sch.Field(typeName, field); f != nil {
			f.SetAsync(true)
		}
	}

	warnings := append(a.cls.Warnings(), b.warnings...)
	a.log.Info("schema assembled",
		zap.Int("modules", len(modules)),
		zap.Int("routes", len(b.routes)),
		zap.Int("types", len(sch.Types)),
		zap.Int("warnings", len(warnings)))
	return &Document{SDL: text, Schema: sch, Routes: b.routes, Warnings: warnings}, nil
}

func (b *build) claim(field, by string) bool {
	if prev, ok := b.owner[field]; ok {
		b.violations = append(b.violations, violationQueryFieldTaken(field, prev))
		return false
	}
	b.owner[field] = by
	return true
}

func (b *build) module(m *metadata.ModuleDescriptor) {
	plain := m.PlainStorage()
	if len(plain) == 0 {
		msg := fmt.Sprintf("module %s has no plain storage items and is not exposed", m.Name)
		b.warnings = append(b.warnings, msg)
		b.log.Warn("module skipped", zap.String("module", m.Name))
		return
	}
	api := m.APIName()
	if !b.claim(api, "module "+m.Name) {
		return
	}

	typeName := classifier.TypeName(classifier.UpperFirst(m.Name)) + ModuleSuffix
	t := b.sdl.DeclareType(typeName)
	for _, item := range plain {
		t.Field(item.APIName, b.cls.ClassifyType(item.InnerType, b.sdl))
		b.routes[typeName+"."+item.APIName] = Route{Kind: RouteStorage, Module: m, Item: item}
	}

	b.sdl.RequireScalar(classifier.BigIntScalar)
	b.query.Declaration(api, fmt.Sprintf("%s(%s: %s = 0): %s", api, BlockArg, classifier.BigIntScalar, typeName))
	b.routes[QueryType+"."+api] = Route{Kind: RouteModule, Module: m}
}

// guest declares leaf fields first so that every chain type they reference
// exists before grouping types are named.
func (b *build) guest(root *bridge.Namespace) {
	type group struct {
		node *bridge.Namespace
		path []string
	}
	var groups []group
	lines := make(map[string]string)

	var walk func(n *bridge.Namespace, path []string)
	walk = func(n *bridge.Namespace, path []string) {
		for _, name := range n.Names() {
			child := n.Child(name)
			p := append(append([]string(nil), path...), name)
			if r := child.Resolver(); r != nil {
				if line, ok := b.leaf(r, name, p); ok {
					lines[strings.Join(p, ".")] = line
				}
				continue
			}
			groups = append(groups, group{node: child, path: p})
			walk(child, p)
		}
	}
	walk(root, nil)

	groupTypes := make(map[string]bool, len(groups))
	for _, g := range groups {
		name := groupTypeName(g.path)
		if b.sdl.HasType(name) || b.sdl.HasInterface(name) || groupTypes[name] {
			b.violations = append(b.violations, violationGroupTypeTaken(name, g.path))
			continue
		}
		groupTypes[name] = true
	}
	if len(b.violations) > 0 {
		return
	}

	place := func(path []string, line string) {
		parent := QueryType
		if len(path) > 1 {
			parent = groupTypeName(path[:len(path)-1])
		}
		field := path[len(path)-1]
		if parent == QueryType && !b.claim(field, "guest resolver "+strings.Join(path, ".")) {
			return
		}
		b.sdl.DeclareType(parent).Declaration(field, line)
	}

	for _, g := range groups {
		name := groupTypeName(g.path)
		b.sdl.DeclareType(name)
		field := g.path[len(g.path)-1]
		place(g.path, field+": "+name)
		parent := QueryType
		if len(g.path) > 1 {
			parent = groupTypeName(g.path[:len(g.path)-1])
		}
		b.routes[parent+"."+field] = Route{Kind: RouteGroup, Path: g.path}
	}
	for _, r := range root.Leaves() {
		key := strings.Join(r.Path, ".")
		line, ok := lines[key]
		if !ok {
			continue
		}
		place(r.Path, line)
	}
}

// leaf classifies the return and argument types of r and records its route.
func (b *build) leaf(r *bridge.Resolver, name string, path []string) (string, bool) {
	ret, err := rewriteNamed(r.ReturnTypeSDL, b.ensure)
	if err != nil {
		b.violations = append(b.violations, violationBadReturnType(r.ReturnTypeSDL, path))
		return "", false
	}

	args := make([]string, 0, len(r.Filters))
	for _, f := range r.Filters {
		arg, err := b.filter(f)
		if err != nil {
			b.violations = append(b.violations, violationBadFilter(f, path))
			return "", false
		}
		args = append(args, arg)
	}

	parent := QueryType
	if len(path) > 1 {
		parent = groupTypeName(path[:len(path)-1])
	}
	b.routes[parent+"."+name] = Route{
		Kind:     RouteGuest,
		Resolver: r,
		Path:     path,
		List:     strings.HasPrefix(strings.TrimSpace(r.ReturnTypeSDL), "["),
	}

	line := name
	if len(args) > 0 {
		line += "(" + strings.Join(args, ", ") + ")"
	}
	return line + ": " + ret, true
}

// filter turns a guest filter declaration into a GraphQL argument. A bare
// name is a String argument.
func (b *build) filter(f string) (string, error) {
	name, typ, ok := strings.Cut(f, ":")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " ()[]!") {
		return "", fmt.Errorf("bad argument name %q", name)
	}
	if !ok {
		return name + ": String", nil
	}
	typ, err := rewriteNamed(typ, b.ensure)
	if err != nil {
		return "", err
	}
	return name + ": " + typ, nil
}

var builtinScalars = map[string]bool{"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true}

// ensure maps a named type used by the guest to its schema type. Chain types
// are classified so their declarations exist; other names pass through.
func (b *build) ensure(named string) string {
	if builtinScalars[named] || b.sdl.HasType(named) || b.sdl.HasScalar(named) {
		return named
	}
	if b.cls.Types().Has(named) {
		return b.cls.ClassifyType(named, b.sdl)
	}
	return named
}

// rewriteNamed replaces the named type inside list and non-null wrappers.
func rewriteNamed(sdlType string, fn func(string) string) (string, error) {
	s := strings.TrimSpace(sdlType)
	open := len(s) - len(strings.TrimLeft(s, "["))
	inner := strings.TrimRight(s[open:], "]!")
	suffix := s[open+len(inner):]
	inner = strings.TrimSpace(inner)
	if inner == "" || strings.ContainsAny(inner, " []!:") || strings.Count(suffix, "]") != open {
		return "", fmt.Errorf("bad type %q", sdlType)
	}
	return s[:open] + fn(inner) + suffix, nil
}

func groupTypeName(path []string) string {
	var b strings.Builder
	for _, p := range path {
		b.WriteString(classifier.UpperFirst(p))
	}
	return classifier.TypeName(b.String())
}
