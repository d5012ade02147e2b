package executor

import (
	"context"
)

// Runtime is the resolution surface the Executor drives.
//
// ResolveSync is only called for fields with Async == false.
// BatchResolveAsync is called once per depth with every async task collected
// at that depth and must return one result per task, in task order. A failing
// element carries its own Error and does not affect its neighbours.
//
// objectType and field identify the schema field being resolved; source is
// the parent value (nil at the root) and args hold coerced argument values,
// which implementations must not mutate. Methods may be invoked concurrently
// for different operations.
type Runtime interface {
	// ResolveSync returns the raw value of a synchronous field. (nil, nil)
	// produces a GraphQL null.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one depth of async tasks. Implementations are
	// free to regroup tasks internally, e.g. by the block they read from.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType names the concrete object type of a value of an interface or
	// union type.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value according to the GraphQL schema and custom scalar mappings.
	// Enums serialize to their symbolic name.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type AsyncResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
}

type AsyncResolveResult struct {
	// Value is the resolved raw value prior to completion. It may be set
	// together with Error when a resolver failed after producing part of its
	// result; the partial value is completed and the error still reported.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
}
