package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/chaingraph/internal/executor"
	language "github.com/hanpama/chaingraph/internal/language"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// noopRuntime implements executor.Runtime with no behaviour.
type noopRuntime struct{}

func (noopRuntime) ResolveSync(context.Context, string, string, any, map[string]any) (any, error) {
	return nil, nil
}

func (noopRuntime) BatchResolveAsync(context.Context, []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return nil
}

func (noopRuntime) ResolveType(context.Context, string, any) (string, error) {
	return "", nil
}

func (noopRuntime) SerializeLeafValue(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

func buildSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sdl := `type Query { hello: String }`
	sch, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("build schema: %v", err)
	}
	return sch
}

func TestIntrospectionEnabled(t *testing.T) {
	sch := buildSchema(t)
	// Wrap with introspection enabled
	wrapper := Wrap(noopRuntime{}, sch)
	exec := executor.NewExecutor(wrapper.Runtime, wrapper.Schema)
	doc, err := language.ParseQuery("{__schema{queryType{name}}}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	data := res.Data.(map[string]any)
	schData := data["__schema"].(map[string]any)
	qt := schData["queryType"].(map[string]any)
	if qt["name"].(string) != "Query" {
		t.Fatalf("queryType.name = %v", qt["name"])
	}
}

func TestTypenameField(t *testing.T) {
	sch := buildSchema(t)
	// __typename should work without introspection wrapper
	rt := noopRuntime{}
	exec := executor.NewExecutor(rt, sch)
	doc, err := language.ParseQuery("{__typename}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	data := res.Data.(map[string]any)
	if data["__typename"] != "Query" {
		t.Fatalf("expected __typename to be Query, got %v", data["__typename"])
	}
}

func TestTypeIntrospectionKeepsDeclarationOrder(t *testing.T) {
	sch, err := schema.BuildFromSDL(`
scalar BigInt
type Query {
    system(block: BigInt = 0): SystemModule
}
type SystemModule {
    number: BigInt
    account(key: String): AccountInfo
    blockHash: String
}
type AccountInfo {
    nonce: Int
}
`)
	require.NoError(t, err)

	wrapper := Wrap(noopRuntime{}, sch)
	exec := executor.NewExecutor(wrapper.Runtime, wrapper.Schema)
	doc, err := language.ParseQuery(`{
		module: __type(name: "SystemModule") { kind fields { name args { name } } }
		root: __type(name: "Query") { fields { name args { name defaultValue } } }
	}`)
	require.NoError(t, err)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)

	zero := "0"
	want := map[string]any{
		"module": map[string]any{
			"kind": "OBJECT",
			"fields": []any{
				map[string]any{"name": "number", "args": []any{}},
				map[string]any{"name": "account", "args": []any{map[string]any{"name": "key"}}},
				map[string]any{"name": "blockHash", "args": []any{}},
			},
		},
		"root": map[string]any{
			"fields": []any{
				map[string]any{"name": "system", "args": []any{map[string]any{"name": "block", "defaultValue": &zero}}},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospectEnumsAndWrappers(t *testing.T) {
	sch, err := schema.BuildFromSDL(`
type Query {
    events(phase: Phase = APPLY): [Event!]!
}
"Where in the block an event was emitted"
enum Phase {
    APPLY
    FINALIZE @deprecated(reason: "use APPLY")
}
type Event {
    index: Int
}
`)
	require.NoError(t, err)

	wrapper := Wrap(noopRuntime{}, sch)
	exec := executor.NewExecutor(wrapper.Runtime, wrapper.Schema)
	doc, err := language.ParseQuery(`{
		query: __type(name: "Query") {
			fields { type { kind ofType { kind ofType { kind ofType { name } } } } args { defaultValue } }
		}
		phase: __type(name: "Phase") {
			description
			enumValues { name }
			all: enumValues(includeDeprecated: true) { name deprecationReason }
		}
		missing: __type(name: "Missing") { name }
	}`)
	require.NoError(t, err)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)

	apply := "APPLY"
	desc := "Where in the block an event was emitted"
	gone := "use APPLY"
	want := map[string]any{
		"query": map[string]any{
			"fields": []any{map[string]any{
				"type": map[string]any{
					"kind": "NON_NULL",
					"ofType": map[string]any{
						"kind": "LIST",
						"ofType": map[string]any{
							"kind":   "NON_NULL",
							"ofType": map[string]any{"name": "Event"},
						},
					},
				},
				"args": []any{map[string]any{"defaultValue": &apply}},
			}},
		},
		"phase": map[string]any{
			"description": &desc,
			"enumValues":  []any{map[string]any{"name": "APPLY"}},
			"all": []any{
				map[string]any{"name": "APPLY", "deprecationReason": nil},
				map[string]any{"name": "FINALIZE", "deprecationReason": &gone},
			},
		},
		"missing": nil,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestSchemaListsMetaTypes(t *testing.T) {
	wrapper := Wrap(noopRuntime{}, buildSchema(t))
	exec := executor.NewExecutor(wrapper.Runtime, wrapper.Schema)
	doc, err := language.ParseQuery(`{ __schema { types { name } directives { name } } }`)
	require.NoError(t, err)

	res := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)

	var types, directives []string
	s := res.Data.(map[string]any)["__schema"].(map[string]any)
	for _, ty := range s["types"].([]any) {
		types = append(types, ty.(map[string]any)["name"].(string))
	}
	for _, d := range s["directives"].([]any) {
		directives = append(directives, d.(map[string]any)["name"].(string))
	}
	require.Contains(t, types, "__Schema")
	require.Contains(t, types, "Query")
	require.IsIncreasing(t, types)
	require.Equal(t, []string{"deprecated", "include", "skip", "specifiedBy"}, directives)

	doc, err = language.ParseQuery(`{ __type(name: "Query") { fields { name } } }`)
	require.NoError(t, err)
	res = exec.ExecuteRequest(context.Background(), doc, "", nil, nil)
	require.Empty(t, res.Errors)
	want := map[string]any{"__type": map[string]any{"fields": []any{map[string]any{"name": "hello"}}}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("meta fields leaked (-want +got):\n%s", diff)
	}
}
