// Package executor runs GraphQL operations breadth-first so that every field
// backed by chain storage or a guest resolver is resolved in as few round
// trips as the query depth allows.
//
// Fields are split by schema.Field.Async. Synchronous fields (projections of
// an already fetched value, grouping namespaces) go through
// Runtime.ResolveSync and are completed on the spot without increasing depth.
// Asynchronous fields (module roots, storage items, guest leaves) are queued;
// once the current depth has been fully expanded the executor hands the whole
// queue to Runtime.BatchResolveAsync in a single call, completes the results,
// and repeats with whatever async fields those completions uncovered. A query
// with asynchronous depth d therefore produces exactly d batch calls.
//
// Completion follows the GraphQL rules. Leaves are passed through
// Runtime.SerializeLeafValue; interface and union values are resolved to a
// concrete object with Runtime.ResolveType. A null or error on a Non-Null
// field propagates to the nearest nullable ancestor, and queued tasks beneath
// a nullified path are dropped before the next batch. Errors are collected as
// located GraphQLErrors next to whatever data could be produced.
//
// Fragments apply when their type condition names the concrete object type,
// a union containing it or an interface it implements.
package executor
