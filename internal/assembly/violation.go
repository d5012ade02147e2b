package assembly

import "strings"

// Violation is one reason the generated schema cannot be served.
type Violation struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationError collects every violation found during a build.
type ValidationError []*Violation

func (e ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("schema assembly failed:\n")
	for _, v := range e {
		b.WriteString("- ")
		b.WriteString(v.Message)
		if v.Field != "" {
			b.WriteString(" (" + v.Field + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func violationQueryFieldTaken(name, by string) *Violation {
	return &Violation{Message: "query field is already declared by " + by, Field: "Query." + name}
}

func violationGroupTypeTaken(typeName string, path []string) *Violation {
	return &Violation{
		Message: "grouping type " + typeName + " collides with a chain type",
		Field:   strings.Join(path, "."),
	}
}

func violationKindConflict(typeName string) *Violation {
	return &Violation{Message: "type " + typeName + " is declared both as an object type and as an interface"}
}

func violationBadFilter(filter string, path []string) *Violation {
	return &Violation{Message: "cannot parse filter " + filter, Field: strings.Join(path, ".")}
}

func violationBadReturnType(sdlType string, path []string) *Violation {
	return &Violation{Message: "cannot parse return type " + sdlType, Field: strings.Join(path, ".")}
}
