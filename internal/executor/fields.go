package executor

import (
	"slices"

	language "github.com/hanpama/chaingraph/internal/language"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// fieldGroup is every selection of one response key, in query order.
type fieldGroup struct {
	ResponseName string
	Fields       []*language.Field
}

// collectFields flattens sel for objectType, merging fields that share a
// response key and expanding fragments whose type condition applies.
func (s *executionState) collectFields(objectType *schema.Type, sel language.SelectionSet) []fieldGroup {
	var groups []fieldGroup
	index := make(map[string]int)
	visited := make(map[string]bool)

	var walk func(language.SelectionSet)
	walk = func(sel language.SelectionSet) {
		for _, selection := range sel {
			switch n := selection.(type) {
			case *language.Field:
				if !s.included(n.Directives) {
					continue
				}
				key := n.Alias
				if key == "" {
					key = n.Name
				}
				if i, ok := index[key]; ok {
					groups[i].Fields = append(groups[i].Fields, n)
					continue
				}
				index[key] = len(groups)
				groups = append(groups, fieldGroup{ResponseName: key, Fields: []*language.Field{n}})

			case *language.InlineFragment:
				if s.included(n.Directives) && s.applies(n.TypeCondition, objectType) {
					walk(n.SelectionSet)
				}

			case *language.FragmentSpread:
				if visited[n.Name] || !s.included(n.Directives) {
					continue
				}
				visited[n.Name] = true
				frag := s.document.Fragments.ForName(n.Name)
				if frag == nil || !s.included(frag.Directives) || !s.applies(frag.TypeCondition, objectType) {
					continue
				}
				walk(frag.SelectionSet)
			}
		}
	}
	walk(sel)
	return groups
}

// applies reports whether a fragment on cond selects fields of objectType.
// Chain enums surface as unions, so abstract conditions are common.
func (s *executionState) applies(cond string, objectType *schema.Type) bool {
	if cond == "" || cond == objectType.Name {
		return true
	}
	t := s.schema.Types[cond]
	if t == nil {
		return false
	}
	switch t.Kind {
	case schema.TypeKindUnion:
		return slices.Contains(t.PossibleTypes, objectType.Name)
	case schema.TypeKindInterface:
		return slices.Contains(objectType.Interfaces, cond)
	}
	return false
}

// included evaluates @skip and @include.
func (s *executionState) included(directives language.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil && s.directiveIf(d) {
		return false
	}
	if d := directives.ForName("include"); d != nil && !s.directiveIf(d) {
		return false
	}
	return true
}

func (s *executionState) directiveIf(d *language.Directive) bool {
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false
	}
	b, _ := literal(arg.Value, s.variableValues).(bool)
	return b
}
