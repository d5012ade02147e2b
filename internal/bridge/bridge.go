// Package bridge hosts a compiled query module and runs its resolvers.
//
// Every execution gets its own context, keyed by the guest pointer returned
// from glue.NewContext. Host functions always receive that pointer and look
// the context up; there is no current context except while the bridge itself
// is inside a guest call. Guest calls are serialized by one mutex, chain
// queries run outside of it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/codec"
	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
)

var (
	// ErrUnknownResolver is returned when a path names no guest resolver.
	ErrUnknownResolver = errors.New("unknown resolver")
	// ErrGuestAbort is returned when the guest runtime aborted mid execution.
	ErrGuestAbort = errors.New("guest aborted")
	// ErrHostCall is returned when a chain query issued by the guest failed.
	ErrHostCall = errors.New("host call failed")
	// ErrMissingExport is returned when the guest lacks a required export.
	ErrMissingExport = errors.New("missing guest export")
)

// Guest exports used by the bridge.
const (
	exportAlloc            = "__alloc"
	exportRetain           = "__retain"
	exportRelease          = "__release"
	exportNewStringJSONMap = "glue.NewStringJsonMap"
	exportSetTypedMapEntry = "glue.SetTypedMapEntry"
	exportNewJSON          = "glue.NewJson"
	exportNewJSONArray     = "glue.NewJsonArray"
	exportPushJSONArray    = "glue.PushJsonArrayEntry"
	exportNewContext       = "glue.NewContext"
	exportResolveQuery     = "glue.ResolveQuery"
	exportResolverType     = "glue.ResolverType"
	exportResolverParams   = "glue.ResolverParams"
	exportSetContextParams = "glue.SetContextParams"
	exportSetContextParent = "glue.SetContextParent"
	exportDispatch         = "glue.Dispatch"
)

var requiredExports = []string{
	exportAlloc, exportRetain, exportRelease,
	exportNewStringJSONMap, exportSetTypedMapEntry, exportNewJSON,
	exportNewContext, exportResolveQuery, exportResolverType, exportResolverParams,
	exportSetContextParams, exportSetContextParent, exportDispatch,
}

// Guest is a loaded query module.
type Guest interface {
	// Call invokes an exported function with raw wasm values.
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	// HasFunction reports whether name is an exported function.
	HasFunction(name string) bool
	// Globals lists exported global names in export order.
	Globals() []string
	// Global returns the i32 value of an exported global.
	Global(name string) (uint32, bool)
	Memory() Memory
	Close(ctx context.Context) error
}

// Querier reads chain storage on behalf of the guest. An empty at reads the
// best block.
type Querier interface {
	Query(ctx context.Context, module, item string, key *string, at string) (codec.Value, error)
}

// Bridge runs guest resolvers.
type Bridge struct {
	querier    Querier
	classifier *classifier.Registry
	logger     *zap.Logger
	timeout    time.Duration

	mu       sync.Mutex
	guest    Guest
	contexts map[uint32]*execContext
	current  *execContext
	hasArray bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger receiving guest console output and aborts.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithTimeout bounds every execution. Zero means no bound beyond the caller's
// context.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

func newBridge(querier Querier, cls *classifier.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		querier:    querier,
		classifier: cls,
		logger:     zap.NewNop(),
		contexts:   map[uint32]*execContext{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// New returns a Bridge over an already loaded guest. Host functions of the
// guest must be wired to the returned Bridge's Host.
func New(guest Guest, querier Querier, cls *classifier.Registry, opts ...Option) (*Bridge, error) {
	b := newBridge(querier, cls, opts...)
	if err := b.attach(guest); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) attach(guest Guest) error {
	var missing []string
	for _, name := range requiredExports {
		if !guest.HasFunction(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingExport, strings.Join(missing, ", "))
	}
	b.guest = guest
	b.hasArray = guest.HasFunction(exportNewJSONArray) && guest.HasFunction(exportPushJSONArray)
	if !b.hasArray {
		b.logger.Info("guest has no json array glue, arrays are passed as null")
	}
	return nil
}

// Host returns the host function surface the guest imports.
func (b *Bridge) Host() *Host { return &Host{b: b} }

// Close closes the guest.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.guest.Close(ctx)
}

func (b *Bridge) call(ctx context.Context, name string, params ...uint64) (uint32, error) {
	res, err := b.guest.Call(ctx, name, params...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return uint32(res[0]), nil
}

func (b *Bridge) release(ctx context.Context) func(uint32) {
	return func(ptr uint32) {
		if ptr == 0 {
			return
		}
		if _, err := b.guest.Call(ctx, exportRelease, uint64(ptr)); err != nil {
			b.logger.Warn("release guest pointer", zap.Uint32("ptr", ptr), zap.Error(err))
		}
	}
}

// EnumerateResolvers reads the resolver tree exported by the guest.
func (b *Bridge) EnumerateResolvers(ctx context.Context) (*Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	root := newNamespace("")
	var tmp arena
	defer tmp.free(b.release(ctx))

	mem := b.guest.Memory()
	for _, name := range b.guest.Globals() {
		path, ok := splitResolverExport(name)
		if !ok {
			continue
		}
		handle, _ := b.guest.Global(name)
		typPtr, err := b.call(ctx, exportResolverType, uint64(handle))
		if err != nil {
			return nil, err
		}
		tmp.keep(typPtr)
		typ, err := readString(mem, typPtr)
		if err != nil {
			return nil, fmt.Errorf("%s return type: %w", name, err)
		}
		paramsPtr, err := b.call(ctx, exportResolverParams, uint64(handle))
		if err != nil {
			return nil, err
		}
		tmp.keep(paramsPtr)
		filters, err := readStrings(mem, paramsPtr)
		if err != nil {
			return nil, fmt.Errorf("%s filters: %w", name, err)
		}

		if err := root.insert(&Resolver{Path: path, ReturnTypeSDL: typ, Filters: filters}); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return root, nil
}

// Execute runs the resolver at path with args and an optional parent value
// and returns the response the guest built: an array of objects or strings.
//
// The result is delivered once the resolve call has returned and every host
// call it issued has been written back. An abort, a failed host call or the
// end of ctx completes the execution early with the partial response and an
// error.
func (b *Bridge) Execute(ctx context.Context, path []string, args map[string]any, parent any) (any, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	name := strings.Join(path, ".")

	b.mu.Lock()
	handle, ok := b.guest.Global(ResolversPrefix + name)
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownResolver, name)
	}
	ec, err := b.begin(ctx, name, args, parent)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}

	ec.tasks.add()
	b.enter(ctx, ec, exportResolveQuery, uint64(handle), uint64(ec.ptr))
	ec.tasks.done()
	b.mu.Unlock()

	select {
	case <-ec.done:
	case <-ctx.Done():
		b.mu.Lock()
		b.complete(ctx, ec, true, ctx.Err())
		b.mu.Unlock()
	}
	return ec.response, ec.err
}

// begin allocates a context and marshals its params and parent.
func (b *Bridge) begin(ctx context.Context, name string, args map[string]any, parent any) (*execContext, error) {
	ptr, err := b.call(ctx, exportNewContext, 0)
	if err != nil {
		return nil, err
	}
	ec := &execContext{
		ctx:      ctx,
		ptr:      ptr,
		path:     name,
		start:    time.Now(),
		response: []any{},
		done:     make(chan struct{}),
	}
	ec.arena.keep(ptr)
	ec.tasks.onZero = func() { b.complete(ctx, ec, false, nil) }
	b.contexts[ptr] = ec
	eventbus.Publish(ctx, events.GuestExecStart{Context: ptr, Path: name})

	fail := func(err error) (*execContext, error) {
		b.complete(ctx, ec, true, err)
		return nil, err
	}
	m, _ := asMap(args)
	params, err := b.marshalMap(ctx, ec, m)
	if err != nil {
		return fail(err)
	}
	if _, err := b.call(ctx, exportSetContextParams, uint64(ptr), uint64(params)); err != nil {
		return fail(err)
	}
	if parent != nil {
		m, ok := asMap(parent)
		if !ok {
			return fail(fmt.Errorf("parent value %T is not an object", parent))
		}
		pp, err := b.marshalMap(ctx, ec, m)
		if err != nil {
			return fail(err)
		}
		if _, err := b.call(ctx, exportSetContextParent, uint64(ptr), uint64(pp)); err != nil {
			return fail(err)
		}
	}
	return ec, nil
}

// enter calls into the guest on behalf of ec. A trap or an abort completes
// ec with whatever it has built so far.
func (b *Bridge) enter(ctx context.Context, ec *execContext, name string, params ...uint64) {
	prev := b.current
	b.current = ec
	_, err := b.guest.Call(ctx, name, params...)
	b.current = prev
	switch {
	case ec.aborted:
		b.complete(ctx, ec, true, ErrGuestAbort)
	case err != nil:
		b.logger.Error("guest call failed", zap.String("export", name), zap.String("resolver", ec.path), zap.Error(err))
		b.complete(ctx, ec, true, fmt.Errorf("%s: %w", name, err))
	}
}

// complete delivers ec exactly once and frees its arena. Callers hold b.mu.
func (b *Bridge) complete(ctx context.Context, ec *execContext, forced bool, err error) {
	if ec.completed {
		return
	}
	ec.completed = true
	ec.forced = forced
	ec.err = err
	delete(b.contexts, ec.ptr)
	ec.arena.free(b.release(context.WithoutCancel(ctx)))
	eventbus.Publish(ctx, events.GuestExecFinish{
		Context:   ec.ptr,
		Path:      ec.path,
		HostCalls: ec.hostCalls,
		Forced:    forced,
		Err:       err,
		Duration:  time.Since(ec.start),
	})
	close(ec.done)
}

// lookup returns the live context for a guest pointer.
func (b *Bridge) lookup(ptr uint32) (*execContext, error) {
	ec, ok := b.contexts[ptr]
	if !ok {
		return nil, fmt.Errorf("no execution context for pointer %d", ptr)
	}
	return ec, nil
}

// InFlight returns the number of contexts that have not completed.
func (b *Bridge) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contexts)
}
