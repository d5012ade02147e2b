package bridge

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/codec"
	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
)

const alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"

// querier answers from a table keyed by "module.item" or "module.item/key".
// Entries in gates block until the gate is closed.
type querier struct {
	mu      sync.Mutex
	values  map[string]codec.Value
	errs    map[string]error
	gates   map[string]chan struct{}
	queries []string
}

func (q *querier) Query(ctx context.Context, module, item string, key *string, at string) (codec.Value, error) {
	id := module + "." + item
	if key != nil {
		id += "/" + *key
	}
	q.mu.Lock()
	q.queries = append(q.queries, id)
	gate := q.gates[id]
	q.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := q.errs[id]; err != nil {
		return nil, err
	}
	return q.values[id], nil
}

func u128(n int64) codec.Uint {
	return codec.Uint{Type: "Balance", Bits: 128, Compact: true, V: big.NewInt(n)}
}

func newTestBridge(t *testing.T, g *fakeGuest, q Querier, opts ...Option) *Bridge {
	t.Helper()
	b, err := New(g, q, classifier.New(codec.NewRegistry()), opts...)
	require.NoError(t, err)
	g.host = b.Host()
	return b
}

func TestEnumerateResolvers(t *testing.T) {
	g := newFakeGuest(
		fakeResolver{name: "forum.categories", typ: "[Category]"},
		fakeResolver{name: "forum.category", typ: "Category", filters: []string{"id"}},
		fakeResolver{name: "version", typ: "String"},
	)
	b := newTestBridge(t, g, &querier{})

	root, err := b.EnumerateResolvers(context.Background())
	require.NoError(t, err)

	require.Equal(t, []string{"forum", "version"}, root.Names())
	forum := root.Child("forum")
	require.Nil(t, forum.Resolver())
	require.Equal(t, []string{"categories", "category"}, forum.Names())

	got, ok := root.Lookup([]string{"forum", "categories"})
	require.True(t, ok)
	want := &Resolver{Path: []string{"forum", "categories"}, ReturnTypeSDL: "[Category]", Filters: []string{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolver mismatch (-want +got):\n%s", diff)
	}
	byID, _ := root.Lookup([]string{"forum", "category"})
	require.Equal(t, []string{"id"}, byID.Filters)
	require.Len(t, root.Leaves(), 3)

	_, ok = root.Lookup([]string{"forum"})
	require.False(t, ok)
	g.balanced(t)
}

func TestExecuteSynchronous(t *testing.T) {
	g := newFakeGuest(fakeResolver{name: "forum.category", resolve: func(g *fakeGuest, ctx uint32) error {
		id := g.params[ctx]["id"].(float64)
		g.host.PushObject(ctx)
		g.host.NumberField(ctx, g.str("id"), id)
		g.host.StringField(ctx, g.str("title"), g.str("General"))
		g.host.StringField(ctx, g.str("owner"), g.str(g.parents[ctx]["account"].(string)))
		g.host.PopObject(ctx)
		return nil
	}})
	b := newTestBridge(t, g, &querier{})

	got, err := b.Execute(context.Background(), []string{"forum", "category"},
		map[string]any{"id": 7}, map[string]any{"account": alice})
	require.NoError(t, err)

	want := []any{map[string]any{"id": 7.0, "title": "General", "owner": alice}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	require.Zero(t, b.InFlight())
	g.balanced(t)
}

func TestExecuteHostCall(t *testing.T) {
	g := newFakeGuest(fakeResolver{name: "staking.ledger", resolve: func(g *fakeGuest, ctx uint32) error {
		g.host.PushObject(ctx)
		g.host.CallWithKey(ctx, g.str("staking"), g.str("ledger"), g.str(alice), 1)
		return nil
	}})
	g.callbacks[1] = func(g *fakeGuest, ctx uint32, value any, _ uint32) error {
		ledger := value.(map[string]any)
		g.host.NumberField(ctx, g.str("total"), ledger["total"].(float64))
		g.host.NumberField(ctx, g.str("active"), ledger["active"].(float64))
		return nil
	}
	q := &querier{values: map[string]codec.Value{
		"staking.ledger/" + alice: codec.Struct{Type: "StakingLedger", Fields: []codec.Field{
			{Name: "total", Value: u128(100)},
			{Name: "active", Value: u128(90)},
		}},
	}}
	b := newTestBridge(t, g, q)

	got, err := b.Execute(context.Background(), []string{"staking", "ledger"}, nil, nil)
	require.NoError(t, err)

	want := []any{map[string]any{"total": 100.0, "active": 90.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"staking.ledger/" + alice}, q.queries)
	g.balanced(t)
}

// Two executions with three host calls each, answered in an interleaved
// order, must each complete once and only after their own last answer.
func TestExecuteCompletesOnce(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	var mu sync.Mutex
	finished := map[uint32]int{}
	eventbus.Subscribe(func(_ context.Context, e events.GuestExecFinish) {
		mu.Lock()
		finished[e.Context]++
		mu.Unlock()
	})

	resolve := func(prefix string) resolveFunc {
		return func(g *fakeGuest, ctx uint32) error {
			for _, k := range []string{"1", "2", "3"} {
				g.host.CallWithKeyWrapper(ctx, g.str("forum"), g.str("post"), g.str(prefix+k), 1, 2)
			}
			return nil
		}
	}
	g := newFakeGuest(
		fakeResolver{name: "a", resolve: resolve("a")},
		fakeResolver{name: "b", resolve: resolve("b")},
	)
	g.callbacks[1] = func(g *fakeGuest, ctx uint32, value any, wrapper uint32) error {
		if wrapper != 2 {
			return errors.New("wrapper index not passed through")
		}
		g.host.PushString(ctx, g.str(value.(string)))
		return nil
	}

	q := &querier{values: map[string]codec.Value{}, gates: map[string]chan struct{}{}}
	for _, p := range []string{"a", "b"} {
		for _, k := range []string{"1", "2", "3"} {
			id := "forum.post/" + p + k
			q.values[id] = codec.Text{Type: "Text", V: p + k}
			q.gates[id] = make(chan struct{})
		}
	}
	b := newTestBridge(t, g, q)

	type result struct {
		v   any
		err error
	}
	results := map[string]chan result{"a": make(chan result, 1), "b": make(chan result, 1)}
	for name, ch := range results {
		go func() {
			v, err := b.Execute(context.Background(), []string{name}, nil, nil)
			ch <- result{v, err}
		}()
	}

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.queries) == 6
	}, time.Second, time.Millisecond)

	for _, id := range []string{"a2", "b3", "a1", "b1", "b2"} {
		close(q.gates["forum.post/"+id])
	}
	var b1 result
	select {
	case b1 = <-results["b"]:
	case <-time.After(time.Second):
		t.Fatal("b did not complete")
	}
	select {
	case <-results["a"]:
		t.Fatal("a completed before its last host call")
	case <-time.After(20 * time.Millisecond):
	}
	close(q.gates["forum.post/a3"])
	a := <-results["a"]

	require.NoError(t, a.err)
	require.NoError(t, b1.err)
	require.ElementsMatch(t, []any{"a1", "a2", "a3"}, a.v)
	require.ElementsMatch(t, []any{"b1", "b2", "b3"}, b1.v)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 2)
	for ctx, n := range finished {
		require.Equal(t, 1, n, "context %d finished %d times", ctx, n)
	}
	g.balanced(t)
}

func TestExecuteBatch(t *testing.T) {
	g := newFakeGuest(fakeResolver{name: "forum.categories", resolve: func(g *fakeGuest, ctx uint32) error {
		keys := g.array(g.str("1"), g.str("2"), g.str("3"))
		g.host.CallWithKeysBatch(ctx, g.str("forum"), g.str("categoryById"), keys, 1)
		return nil
	}})
	dispatched := 0
	g.callbacks[1] = func(g *fakeGuest, ctx uint32, value any, _ uint32) error {
		dispatched++
		c := value.(map[string]any)
		g.host.PushObject(ctx)
		g.host.NumberField(ctx, g.str("id"), c["id"].(float64))
		g.host.StringField(ctx, g.str("title"), g.str(c["title"].(string)))
		g.host.PopObject(ctx)
		return nil
	}
	q := &querier{values: map[string]codec.Value{}, gates: map[string]chan struct{}{"forum.categoryById/1": make(chan struct{})}}
	for i, title := range []string{"General", "Council", "Off topic"} {
		q.values["forum.categoryById/"+string(rune('1'+i))] = codec.Struct{Type: "Category", Fields: []codec.Field{
			{Name: "id", Value: codec.NewUint("u64", 64, uint64(i+1))},
			{Name: "title", Value: codec.Text{Type: "Text", V: title}},
		}}
	}
	b := newTestBridge(t, g, q)

	done := make(chan struct{})
	var got any
	var err error
	go func() {
		got, err = b.Execute(context.Background(), []string{"forum", "categories"}, nil, nil)
		close(done)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.queries) == 3
	}, time.Second, time.Millisecond)
	b.mu.Lock()
	require.Zero(t, dispatched, "no value may be dispatched before the whole batch arrived")
	b.mu.Unlock()
	close(q.gates["forum.categoryById/1"])
	<-done

	require.NoError(t, err)
	want := []any{
		map[string]any{"id": 1.0, "title": "General"},
		map[string]any{"id": 2.0, "title": "Council"},
		map[string]any{"id": 3.0, "title": "Off topic"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
	g.balanced(t)
}

func TestExecuteLegacyNumberKeys(t *testing.T) {
	g := newFakeGuest(fakeResolver{name: "posts", resolve: func(g *fakeGuest, ctx uint32) error {
		g.host.CallWithArgNumber(ctx, g.str("forum"), g.str("PostById"), 4, 1)
		g.host.CallWithArgNumberWrapperBatch(ctx, g.str("forum"), g.str("PostById"), g.array(5, 6), 1, 0)
		return nil
	}})
	g.callbacks[1] = func(g *fakeGuest, ctx uint32, value any, _ uint32) error {
		g.host.PushString(ctx, g.str(value.(string)))
		return nil
	}
	q := &querier{values: map[string]codec.Value{
		"forum.PostById/4": codec.Text{V: "four"},
		"forum.PostById/5": codec.Text{V: "five"},
		"forum.PostById/6": codec.Text{V: "six"},
	}}
	b := newTestBridge(t, g, q)

	got, err := b.Execute(context.Background(), []string{"posts"}, nil, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"four", "five", "six"}, got)
	g.balanced(t)
}

func TestExecuteHostCallRejected(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	g := newFakeGuest(fakeResolver{name: "broken", resolve: func(g *fakeGuest, ctx uint32) error {
		g.host.PushObject(ctx)
		g.host.StringField(ctx, g.str("before"), g.str("call"))
		g.host.Call(ctx, g.str("forum"), g.str("nextCategoryId"), 1)
		g.host.Call(ctx, g.str("forum"), g.str("slow"), 1)
		return nil
	}})
	g.callbacks[1] = func(g *fakeGuest, ctx uint32, value any, _ uint32) error {
		g.host.StringField(ctx, g.str("after"), g.str("call"))
		return nil
	}
	q := &querier{
		errs:  map[string]error{"forum.nextCategoryId": errors.New("connection reset")},
		gates: map[string]chan struct{}{"forum.slow": make(chan struct{})},
	}
	b := newTestBridge(t, g, q, WithLogger(zap.New(core)))

	got, err := b.Execute(context.Background(), []string{"broken"}, nil, nil)
	require.ErrorIs(t, err, ErrHostCall)
	require.Equal(t, []any{map[string]any{"before": "call"}}, got)
	require.Equal(t, 1, logs.FilterMessage("chain query failed").Len())
	require.Zero(t, b.InFlight())

	// the late answer of the other call must be dropped
	close(q.gates["forum.slow"])
	require.Never(t, func() bool { return g.doubleFrees > 0 }, 20*time.Millisecond, time.Millisecond)
	g.balanced(t)
}

func TestExecuteAbort(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	g := newFakeGuest(fakeResolver{name: "crash", resolve: func(g *fakeGuest, ctx uint32) error {
		g.host.PushObject(ctx)
		g.host.StringField(ctx, g.str("partial"), g.str("yes"))
		g.host.Abort(g.str("index out of range"), g.str("assembly/forum.ts"), 12, 7)
		return errors.New("wasm error: unreachable")
	}})
	b := newTestBridge(t, g, &querier{}, WithLogger(zap.New(core)))

	got, err := b.Execute(context.Background(), []string{"crash"}, nil, nil)
	require.ErrorIs(t, err, ErrGuestAbort)
	require.Equal(t, []any{map[string]any{"partial": "yes"}}, got)

	entries := logs.FilterMessage("guest abort").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "assembly/forum.ts", fields["file"])
	require.Equal(t, uint32(12), fields["line"])
	require.Equal(t, "crash", fields["resolver"])
	g.balanced(t)
}

func TestExecuteTimeout(t *testing.T) {
	g := newFakeGuest(fakeResolver{name: "stalled", resolve: func(g *fakeGuest, ctx uint32) error {
		g.host.PushString(ctx, g.str("started"))
		g.host.Call(ctx, g.str("forum"), g.str("never"), 1)
		return nil
	}})
	q := &querier{gates: map[string]chan struct{}{"forum.never": make(chan struct{})}}
	b := newTestBridge(t, g, q, WithTimeout(20*time.Millisecond))

	got, err := b.Execute(context.Background(), []string{"stalled"}, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, []any{"started"}, got)
	require.Zero(t, b.InFlight())
	g.balanced(t)
}

func TestExecuteMarshalsArgs(t *testing.T) {
	var params map[string]any
	g := newFakeGuest(fakeResolver{name: "echo", resolve: func(g *fakeGuest, ctx uint32) error {
		params = g.params[ctx]
		return nil
	}})
	b := newTestBridge(t, g, &querier{})

	parentObj := classifier.NewObject("Category").Set("id", int64(3))
	_, err := b.Execute(context.Background(), []string{"echo"}, map[string]any{
		"flag":   true,
		"none":   nil,
		"big":    "340282366920938463463374607431768211455",
		"ids":    []any{int64(1), int64(2)},
		"nested": parentObj,
	}, nil)
	require.NoError(t, err)

	want := map[string]any{
		"flag":   true,
		"none":   nil,
		"big":    "340282366920938463463374607431768211455",
		"ids":    []any{1.0, 2.0},
		"nested": map[string]any{"id": 3.0},
	}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Fatalf("params mismatch (-want +got):\n%s", diff)
	}
	g.balanced(t)
}

func TestExecuteArraysWithoutGlue(t *testing.T) {
	var params map[string]any
	g := newFakeGuest(fakeResolver{name: "echo", resolve: func(g *fakeGuest, ctx uint32) error {
		params = g.params[ctx]
		return nil
	}})
	g.missing[exportNewJSONArray] = true
	b := newTestBridge(t, g, &querier{})

	_, err := b.Execute(context.Background(), []string{"echo"}, map[string]any{"ids": []any{int64(1)}}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ids": nil}, params)
	g.balanced(t)
}

func TestExecuteUnknownResolver(t *testing.T) {
	b := newTestBridge(t, newFakeGuest(), &querier{})
	_, err := b.Execute(context.Background(), []string{"forum", "threads"}, nil, nil)
	require.ErrorIs(t, err, ErrUnknownResolver)
}

func TestNewRequiresExports(t *testing.T) {
	g := newFakeGuest()
	g.missing[exportDispatch] = true
	_, err := New(g, &querier{}, classifier.New(codec.NewRegistry()))
	require.ErrorIs(t, err, ErrMissingExport)
	require.Contains(t, err.Error(), exportDispatch)
}
