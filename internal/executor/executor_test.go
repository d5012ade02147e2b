package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	schema "github.com/hanpama/chaingraph/internal/schema"
)

func chainSchema() *schema.Schema {
	block := schema.NewInputValue("block", "", schema.NamedType("BigInt")).SetDefault(int64(0))
	return newSchemaWithQueryType(
		newObjectType("Query",
			schema.NewField("system", "", schema.NamedType("SystemModule")).SetAsync(true).AddArgument(block),
			schema.NewField("forum", "", schema.NamedType("Forum")),
		),
		newObjectType("SystemModule",
			schema.NewField("number", "", schema.NonNullType(schema.NamedType("BigInt"))).SetAsync(true),
			schema.NewField("parentHash", "", schema.NamedType("String")).SetAsync(true),
		),
		newObjectType("Forum",
			schema.NewField("categories", "", schema.ListType(schema.NamedType("Category"))).SetAsync(true),
		),
		newObjectType("Category",
			schema.NewField("name", "", schema.NamedType("String")),
		),
		newScalarType("BigInt"),
	)
}

func TestExecuteBatchesPerDepth(t *testing.T) {
	module := map[string]any{"at": "0xabc"}
	forum := map[string]any{}
	general := map[string]any{"name": "general"}
	random := map[string]any{"name": "random"}

	rt := NewMockRuntime(map[string]MockResolver{
		"Query.system":            NewMockValueResolver(module),
		"Query.forum":             NewMockValueResolver(forum),
		"Forum.categories":        NewMockValueResolver([]any{general, random}),
		"Category.name":           sourceKey("name"),
		"SystemModule.number":     NewMockValueResolver(json.Number("42")),
		"SystemModule.parentHash": NewMockValueResolver("0x01"),
	})
	exec := NewExecutor(rt, chainSchema())

	doc := mustParseQuery(t, `{ system(block: -1) { number parentHash } forum { categories { name } } }`)
	got := exec.ExecuteRequest(context.Background(), doc, "", nil, nil)

	want := &ExecutionResult{
		Data: map[string]any{
			"system": map[string]any{"number": json.Number("42"), "parentHash": "0x01"},
			"forum": map[string]any{"categories": []any{
				map[string]any{"name": "general"},
				map[string]any{"name": "random"},
			}},
		},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []Call{
		{Kind: CallKindSync, ObjectType: "Query", Field: "forum", Args: map[string]any{}},
		{Kind: CallKindAsync, ObjectType: "Query", Field: "system", Args: map[string]any{"block": -1}, BatchID: 1},
		{Kind: CallKindAsync, ObjectType: "Forum", Field: "categories", Source: forum, Args: map[string]any{}, BatchID: 1},
		{Kind: CallKindSync, ObjectType: "Category", Field: "name", Source: general, Args: map[string]any{}},
		{Kind: CallKindSync, ObjectType: "Category", Field: "name", Source: random, Args: map[string]any{}},
		{Kind: CallKindAsync, ObjectType: "SystemModule", Field: "number", Source: module, Args: map[string]any{}, BatchID: 2},
		{Kind: CallKindAsync, ObjectType: "SystemModule", Field: "parentHash", Source: module, Args: map[string]any{}, BatchID: 2},
	}
	if diff := cmp.Diff(wantCalls, rt.GetCalls()); diff != "" {
		t.Fatalf("Runtime calls mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteArgumentDefaultsAndVariables(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.system": NewMockValueResolver(map[string]any{}),
	})
	exec := NewExecutor(rt, chainSchema())

	exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ system { __typename } }`), "", nil, nil)
	exec.ExecuteRequest(context.Background(),
		mustParseQuery(t, `query Past($b: BigInt) { system(block: $b) { __typename } }`),
		"Past", map[string]any{"b": float64(-3)}, nil)

	var got []map[string]any
	for _, c := range rt.GetCalls() {
		got = append(got, c.Args)
	}
	want := []map[string]any{
		{"block": int64(0)},
		{"block": float64(-3)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteNonNullErrorNullsModule(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.system":            NewMockValueResolver(map[string]any{}),
		"Query.forum":             NewMockValueResolver(map[string]any{}),
		"Forum.categories":        NewMockValueResolver([]any{}),
		"SystemModule.number":     NewMockErrorResolver(errors.New("chain query failed")),
		"SystemModule.parentHash": NewMockValueResolver("0x01"),
	})
	exec := NewExecutor(rt, chainSchema())

	got := exec.ExecuteRequest(context.Background(),
		mustParseQuery(t, `{ system { number parentHash } forum { categories { name } } }`), "", nil, nil)

	want := &ExecutionResult{
		Data: map[string]any{
			"system": nil,
			"forum":  map[string]any{"categories": []any{}},
		},
		Errors: []GraphQLError{{
			Message:   "chain query failed",
			Locations: []Location{{Line: 1, Column: 12}},
			Path:      Path{"system", "number"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteNullableErrorKeepsSiblings(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.system":            NewMockValueResolver(map[string]any{}),
		"SystemModule.number":     NewMockValueResolver(json.Number("7")),
		"SystemModule.parentHash": NewMockErrorResolver(errors.New("no such block")),
	})
	exec := NewExecutor(rt, chainSchema())

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ system { number parentHash } }`), "", nil, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"system": map[string]any{"number": json.Number("7"), "parentHash": nil}},
		Errors: []GraphQLError{{
			Message:   "no such block",
			Locations: []Location{{Line: 1, Column: 19}},
			Path:      Path{"system", "parentHash"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteResolvesUnionMember(t *testing.T) {
	event := schema.NewType("Event", schema.TypeKindUnion, "").AddPossibleType("Transfer").AddPossibleType("Remark")
	sch := newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("event", "", schema.NamedType("Event"))),
		event,
		newObjectType("Transfer", schema.NewField("amount", "", schema.NamedType("BigInt"))),
		newObjectType("Remark", schema.NewField("text", "", schema.NamedType("String"))),
		newScalarType("BigInt"),
	)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.event":     NewMockValueResolver(map[string]any{"__typename": "Transfer", "amount": json.Number("5")}),
		"Transfer.amount": sourceKey("amount"),
	})
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{
		event {
			__typename
			... on Transfer { amount }
			... on Remark { text }
		}
	}`), "", nil, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"event": map[string]any{"__typename": "Transfer", "amount": json.Number("5")}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	exec := NewExecutor(NewMockRuntime(nil), chainSchema())
	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `query A { forum { __typename } }`), "B", nil, nil)
	want := &ExecutionResult{Errors: []GraphQLError{{Message: `operation "B" not found`}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteNonNullErrorNullsNearestNullable(t *testing.T) {
	sch := newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("chain", "", schema.NonNullType(schema.NamedType("Chain")))),
		newObjectType("Chain",
			schema.NewField("name", "", schema.NamedType("String")),
			schema.NewField("staking", "", schema.NamedType("Staking")).SetAsync(true),
		),
		newObjectType("Staking", schema.NewField("ledger", "", schema.NonNullType(schema.NamedType("Ledger")))),
		newObjectType("Ledger",
			schema.NewField("total", "", schema.NonNullType(schema.NamedType("BigInt"))).SetAsync(true),
			schema.NewField("locked", "", schema.NamedType("BigInt")).SetAsync(true),
		),
		newScalarType("BigInt"),
	)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.chain":    NewMockValueResolver(map[string]any{}),
		"Chain.name":     NewMockValueResolver("dev"),
		"Chain.staking":  NewMockValueResolver(map[string]any{}),
		"Staking.ledger": NewMockValueResolver(map[string]any{}),
		"Ledger.total":   NewMockErrorResolver(errors.New("boom")),
		"Ledger.locked":  NewMockValueResolver(json.Number("1")),
	})
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(),
		mustParseQuery(t, `{ chain { name staking { ledger { total locked } } } }`), "", nil, nil)

	want := &ExecutionResult{
		Data: map[string]any{"chain": map[string]any{"name": "dev", "staking": nil}},
		Errors: []GraphQLError{{
			Message:   "boom",
			Locations: []Location{{Line: 1, Column: 35}},
			Path:      Path{"chain", "staking", "ledger", "total"},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteNullListItem(t *testing.T) {
	sch := newSchemaWithQueryType(newObjectType("Query",
		schema.NewField("validators", "", schema.ListType(schema.NonNullType(schema.NamedType("String")))),
		schema.NewField("nominators", "", schema.ListType(schema.NamedType("String"))),
	))
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.validators": NewMockValueResolver([]any{"alice", nil}),
		"Query.nominators": NewMockValueResolver([]string{"bob"}),
	})
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ validators nominators }`), "", nil, nil)

	want := &ExecutionResult{
		Data: map[string]any{"validators": nil, "nominators": []any{"bob"}},
		Errors: []GraphQLError{{
			Message:   "Cannot return null for non-nullable field validators[1]",
			Locations: []Location{{Line: 1, Column: 3}},
			Path:      Path{"validators", 1},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteFragmentOnUnion(t *testing.T) {
	event := schema.NewType("Event", schema.TypeKindUnion, "").AddPossibleType("Transfer")
	sch := newSchemaWithQueryType(
		newObjectType("Query", schema.NewField("events", "", schema.ListType(schema.NamedType("Event")))),
		event,
		newObjectType("Transfer", schema.NewField("amount", "", schema.NamedType("BigInt"))),
		newScalarType("BigInt"),
	)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.events":    NewMockValueResolver([]any{map[string]any{"__typename": "Transfer", "amount": json.Number("5")}}),
		"Transfer.amount": sourceKey("amount"),
	})
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `
		{ events { ...Kind ... on Transfer @include(if: true) { amount } } }
		fragment Kind on Event { kind: __typename }
	`), "", nil, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"events": []any{map[string]any{"kind": "Transfer", "amount": json.Number("5")}}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteSkipsByVariable(t *testing.T) {
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.system": NewMockValueResolver(map[string]any{}),
	})
	exec := NewExecutor(rt, chainSchema())

	got := exec.ExecuteRequest(context.Background(),
		mustParseQuery(t, `query ($cold: Boolean!) { system @skip(if: $cold) { __typename } }`),
		"", map[string]any{"cold": true}, nil)

	want := &ExecutionResult{Data: map[string]any{}, Errors: []GraphQLError{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
	if calls := rt.GetCalls(); len(calls) != 0 {
		t.Fatalf("expected no runtime calls, got %v", calls)
	}
}

func TestExecuteAsyncPartialValueKeepsError(t *testing.T) {
	sch := newSchemaWithQueryType(
		newObjectType("Query",
			schema.NewField("posts", "", schema.ListType(schema.NamedType("Post"))).SetAsync(true),
			schema.NewField("threads", "", schema.ListType(schema.NamedType("Post"))).SetAsync(true),
		),
		newObjectType("Post", schema.NewField("title", "", schema.NamedType("String"))),
	)
	aborted := errors.New("guest aborted: boom")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.posts": func(context.Context, any, map[string]any) (any, error) {
			return []any{map[string]any{"title": "partial"}}, aborted
		},
		"Query.threads": NewMockErrorResolver(aborted),
		"Post.title":    sourceKey("title"),
	})
	exec := NewExecutor(rt, sch)

	got := exec.ExecuteRequest(context.Background(), mustParseQuery(t, `{ posts { title } threads { title } }`), "", nil, nil)

	want := &ExecutionResult{
		Data: map[string]any{
			"posts":   []any{map[string]any{"title": "partial"}},
			"threads": nil,
		},
		Errors: []GraphQLError{
			{Message: "guest aborted: boom", Locations: []Location{{Line: 1, Column: 3}}, Path: Path{"posts"}},
			{Message: "guest aborted: boom", Locations: []Location{{Line: 1, Column: 19}}, Path: Path{"threads"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
