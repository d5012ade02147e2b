// Package language re-exports the parts of gqlparser the rest of the module
// works with, so only this package imports it directly.
package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Error is a GraphQL error with source locations.
type Error = gqlerror.Error

// ParseQuery parses an executable document. Syntax errors are returned as
// *Error.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates a schema document against the GraphQL
// prelude.
func LoadSchema(name, source string) (*Schema, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ParsePrelude parses the built-in GraphQL definitions without validating
// them against a schema.
func ParsePrelude() (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(validator.Prelude)
	if err != nil {
		return nil, err
	}
	return doc, nil
}
