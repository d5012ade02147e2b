// Package resolver implements executor.Runtime for an assembled chain schema.
//
// Module fields pin a block, storage fields of the same pinned module are
// fetched with one storage query per batch, and guest leaves are delegated to
// the query module bridge.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/chaingraph/internal/assembly"
	"github.com/hanpama/chaingraph/internal/chain"
	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/eventbus"
	"github.com/hanpama/chaingraph/internal/events"
	"github.com/hanpama/chaingraph/internal/executor"
	"github.com/hanpama/chaingraph/internal/metadata"
)

// Store is the chain access the runtime needs. *chain.Store implements it.
type Store interface {
	Header(ctx context.Context) (chain.Header, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	QueryItems(ctx context.Context, module string, items []string, at string) ([]codec.Value, error)
}

// Guest runs guest resolvers. *bridge.Bridge implements it.
type Guest interface {
	Execute(ctx context.Context, path []string, args map[string]any, parent any) (any, error)
}

// ErrNoRoute is returned for a field the assembled document does not route.
var ErrNoRoute = errors.New("no route for field")

// ModuleAt is the value of a module field: the module pinned to a block.
// An empty Hash reads the current state.
type ModuleAt struct {
	Module *metadata.ModuleDescriptor
	Height uint64
	Hash   string
}

// Group is the value of a guest namespace field.
type Group struct {
	Path []string
}

type Option func(*Runtime)

func WithLogger(l *zap.Logger) Option { return func(r *Runtime) { r.log = l } }

// WithGuestConcurrency bounds the guest executions started per batch.
func WithGuestConcurrency(n int) Option { return func(r *Runtime) { r.guestLimit = n } }

// Runtime resolves fields of an assembly.Document.
type Runtime struct {
	doc        *assembly.Document
	store      Store
	guest      Guest
	cls        *classifier.Registry
	log        *zap.Logger
	guestLimit int
}

var _ executor.Runtime = (*Runtime)(nil)

// New returns a Runtime. guest may be nil when no query module is loaded.
func New(doc *assembly.Document, store Store, guest Guest, cls *classifier.Registry, opts ...Option) *Runtime {
	r := &Runtime{doc: doc, store: store, guest: guest, cls: cls, log: zap.NewNop(), guestLimit: 16}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.Named("resolver")
	return r
}

// ResolveSync resolves grouping fields and projections of already fetched
// values.
func (r *Runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	if route, ok := r.doc.Route(objectType, field); ok {
		if route.Kind != assembly.RouteGroup {
			return nil, fmt.Errorf("%s.%s is resolved asynchronously", objectType, field)
		}
		return &Group{Path: route.Path}, nil
	}
	return property(source, field), nil
}

func property(source any, field string) any {
	switch s := source.(type) {
	case *classifier.Object:
		v, _ := s.Get(field)
		return v
	case map[string]any:
		return s[field]
	}
	return nil
}

// BatchResolveAsync resolves module, storage and guest fields of one depth.
// Storage fields are grouped by the ModuleAt they read from.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	head := sync.OnceValues(func() (chain.Header, error) { return r.store.Header(ctx) })

	var g errgroup.Group
	storage := make(map[*ModuleAt][]int)
	var order []*ModuleAt
	var guests []int

	for i, t := range tasks {
		route, ok := r.doc.Route(t.ObjectType, t.Field)
		if !ok {
			results[i].Error = fmt.Errorf("%w %s.%s", ErrNoRoute, t.ObjectType, t.Field)
			continue
		}
		switch route.Kind {
		case assembly.RouteModule:
			g.Go(func() error {
				results[i].Value, results[i].Error = r.moduleAt(ctx, route.Module, t.Args, head)
				return nil
			})
		case assembly.RouteStorage:
			at, ok := t.Source.(*ModuleAt)
			if !ok {
				results[i].Error = fmt.Errorf("%s.%s: source is %T, not a module", t.ObjectType, t.Field, t.Source)
				continue
			}
			if _, seen := storage[at]; !seen {
				order = append(order, at)
			}
			storage[at] = append(storage[at], i)
		case assembly.RouteGuest:
			guests = append(guests, i)
		default:
			results[i].Error = fmt.Errorf("%s.%s is resolved synchronously", t.ObjectType, t.Field)
		}
	}

	for _, at := range order {
		idx := storage[at]
		g.Go(func() error {
			r.storageItems(ctx, at, tasks, idx, results)
			return nil
		})
	}

	if len(guests) > 0 {
		gg := &errgroup.Group{}
		gg.SetLimit(r.guestLimit)
		for _, i := range guests {
			route, _ := r.doc.Route(tasks[i].ObjectType, tasks[i].Field)
			gg.Go(func() error {
				results[i].Value, results[i].Error = r.execute(ctx, route, tasks[i])
				return nil
			})
		}
		g.Go(gg.Wait)
	}

	_ = g.Wait()
	return results
}

// moduleAt pins a module to the block argument. 0 reads the current state
// without a hash lookup; a negative block counts back from the head.
func (r *Runtime) moduleAt(ctx context.Context, m *metadata.ModuleDescriptor, args map[string]any, head func() (chain.Header, error)) (*ModuleAt, error) {
	block, err := blockNumber(args[assembly.BlockArg])
	if err != nil {
		return nil, err
	}
	at := &ModuleAt{Module: m}
	if block == 0 {
		return at, nil
	}
	height := block
	if block < 0 {
		h, err := head()
		if err != nil {
			return nil, fmt.Errorf("chain head: %w", err)
		}
		height = int64(h.Number) + block
		if height < 0 {
			return nil, fmt.Errorf("block %d is before genesis (head is %d)", block, h.Number)
		}
	}
	at.Height = uint64(height)
	if at.Hash, err = r.store.BlockHash(ctx, at.Height); err != nil {
		return nil, err
	}
	return at, nil
}

func (r *Runtime) storageItems(ctx context.Context, at *ModuleAt, tasks []executor.AsyncResolveTask, idx []int, results []executor.AsyncResolveResult) {
	var items []string
	pos := make(map[string]int)
	for _, i := range idx {
		name := tasks[i].Field
		if _, ok := pos[name]; !ok {
			pos[name] = len(items)
			items = append(items, name)
		}
	}

	start := time.Now()
	values, err := r.store.QueryItems(ctx, at.Module.Name, items, at.Hash)
	if err == nil && len(values) != len(items) {
		err = fmt.Errorf("%w: requested %d, got %d", chain.ErrResultCount, len(items), len(values))
	}
	eventbus.Publish(ctx, events.StorageQuery{
		Module:   at.Module.Name,
		Items:    items,
		At:       at.Hash,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		r.log.Debug("storage query failed",
			zap.String("module", at.Module.Name),
			zap.Strings("items", items),
			zap.String("at", at.Hash),
			zap.Error(err))
		for _, i := range idx {
			results[i].Error = err
		}
		return
	}
	for _, i := range idx {
		results[i].Value = r.cls.Serialize(values[pos[tasks[i].Field]])
	}
}

// execute delegates a guest leaf. Leaves declared with a non-list type
// resolve to the first element the guest pushed. A guest that aborts or has
// a host call rejected still delivers what it pushed before failing; that
// partial value is returned together with the error.
func (r *Runtime) execute(ctx context.Context, route assembly.Route, t executor.AsyncResolveTask) (any, error) {
	if r.guest == nil {
		return nil, fmt.Errorf("%s.%s: no query module loaded", t.ObjectType, t.Field)
	}
	var parent any
	switch t.Source.(type) {
	case map[string]any, *classifier.Object:
		parent = t.Source
	}
	v, err := r.guest.Execute(ctx, route.Path, guestArgs(t.Args), parent)
	if err != nil {
		if items, ok := v.([]any); !ok || len(items) == 0 {
			return nil, err
		}
		r.log.Warn("guest failed with a partial response",
			zap.String("resolver", strings.Join(route.Path, ".")),
			zap.Error(err))
	}
	return project(v, route.List), err
}

// project shapes the pushed response for a list or single-valued field.
func project(v any, list bool) any {
	items, ok := v.([]any)
	switch {
	case !ok || list:
		return v
	case len(items) == 0:
		return nil
	}
	return items[0]
}

// guestArgs converts argument values into the shapes the bridge marshals.
func guestArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch n := v.(type) {
		case int32:
			out[k] = int64(n)
		case *big.Int:
			out[k] = json.Number(n.String())
		default:
			out[k] = v
		}
	}
	return out
}

func blockNumber(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("block %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		b, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("block %q: %w", n, err)
		}
		return b, nil
	}
	return 0, fmt.Errorf("block has unsupported type %T", v)
}

// ResolveType names the concrete type of serialized chain objects and of
// guest objects carrying __typename.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	switch v := value.(type) {
	case *classifier.Object:
		if v.TypeName != "" {
			return v.TypeName, nil
		}
	case map[string]any:
		if name, ok := v["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s from %T", abstractType, value)
}

// SerializeLeafValue keeps BigInt values exact and maps the Null scalar to
// null.
func (r *Runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case classifier.NullScalar:
		return nil, nil
	case classifier.BigIntScalar:
		return bigInt(value)
	case "Int":
		switch n := value.(type) {
		case json.Number:
			return n.Int64()
		case uint64:
			if n > 1<<53 {
				return nil, fmt.Errorf("cannot represent %d as Int", n)
			}
			return int64(n), nil
		}
	}
	return value, nil
}

func bigInt(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		return n, nil
	case *big.Int:
		return json.Number(n.String()), nil
	case string:
		if _, ok := new(big.Int).SetString(n, 10); !ok {
			return nil, fmt.Errorf("cannot represent %q as BigInt", n)
		}
		return json.Number(n), nil
	case int, int32, int64, uint32, uint64:
		return json.Number(fmt.Sprint(n)), nil
	case float64:
		return json.Number(strconv.FormatFloat(n, 'f', -1, 64)), nil
	}
	return nil, fmt.Errorf("cannot represent %T as BigInt", v)
}
