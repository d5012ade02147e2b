package schema

import (
	"slices"
	"strings"

	language "github.com/hanpama/chaingraph/internal/language"
)

// Every Schema carries these prelude definitions. They are shared between
// schemas and never rendered.
var (
	builtinScalars    = []string{"String", "Int", "Float", "Boolean", "ID"}
	builtinDirectives = []string{"include", "skip", "deprecated", "specifiedBy"}

	prelude = loadPrelude()
)

type preludeSet struct {
	types      map[string]*Type
	directives map[string]*Directive
	meta       []*Type
}

func loadPrelude() preludeSet {
	doc, err := language.ParsePrelude()
	if err != nil {
		panic("schema: parse prelude: " + err.Error())
	}
	p := preludeSet{types: make(map[string]*Type), directives: make(map[string]*Directive)}
	for _, def := range doc.Definitions {
		switch {
		case IsBuiltin(def.Name):
			p.types[def.Name] = buildType(def)
		case strings.HasPrefix(def.Name, "__"):
			p.meta = append(p.meta, buildType(def))
		}
	}
	for _, dir := range doc.Directives {
		if slices.Contains(builtinDirectives, dir.Name) {
			p.directives[dir.Name] = buildDirective(dir)
		}
	}
	return p
}

// IsBuiltin reports whether name is one of the standard scalars.
func IsBuiltin(name string) bool {
	return slices.Contains(builtinScalars, name)
}

// IntrospectionTypes returns the __Schema family of types in prelude order.
// The returned types are shared and must not be modified.
func IntrospectionTypes() []*Type {
	return prelude.meta
}

func isBuiltinDirective(name string) bool {
	return slices.Contains(builtinDirectives, name)
}
