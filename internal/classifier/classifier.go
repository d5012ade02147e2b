// Package classifier maps wire types onto GraphQL schema fragments and wire
// values onto generic JSON values. Both directions share one naming scheme so
// serialized objects always match the declared types.
package classifier

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/sdl"
)

// Well known schema names.
const (
	EnumInterface = "Enum"
	EnumTypeField = "_enumType"
	BigIntScalar  = "BigInt"
	NullScalar    = "Null"
)

// ScalarMapping maps every type matching Match to a fixed SDL fragment.
type ScalarMapping struct {
	Name  string
	Match func(def *codec.TypeDef) bool
	SDL   string
	// Custom marks SDL as a scalar that must be declared in the schema.
	Custom bool
}

// ShapeHandler produces the SDL fragment for a composite definition.
type ShapeHandler func(r *Registry, def *codec.TypeDef, schema *sdl.Schema) string

// Registry classifies wire types. Scalar mappings are checked in registration
// order before composite shapes; the first match wins.
type Registry struct {
	types      *codec.Registry
	scalars    []ScalarMapping
	shapes     map[codec.Kind]ShapeHandler
	ss58Prefix uint8
	logger     *zap.Logger

	mu       sync.Mutex
	warnings []string
	warned   map[string]struct{}
}

type Option func(*Registry)

// WithLogger sets the logger used for build time warnings.
func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithSS58Prefix sets the network prefix used to render account ids.
func WithSS58Prefix(p uint8) Option { return func(r *Registry) { r.ss58Prefix = p } }

// New returns a registry preloaded with the default scalar table.
func New(types *codec.Registry, opts ...Option) *Registry {
	r := &Registry{
		types:      types,
		shapes:     make(map[codec.Kind]ShapeHandler),
		ss58Prefix: codec.DefaultSS58Prefix,
		logger:     zap.NewNop(),
		warned:     make(map[string]struct{}),
	}
	for _, m := range defaultScalars(types) {
		r.RegisterScalar(m)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Types returns the wire type registry.
func (r *Registry) Types() *codec.Registry { return r.types }

// RegisterScalar appends a mapping. Register specific mappings before general
// ones that would also match.
func (r *Registry) RegisterScalar(m ScalarMapping) {
	r.scalars = append(r.scalars, m)
}

// PrependScalar inserts a mapping ahead of every existing one.
func (r *Registry) PrependScalar(m ScalarMapping) {
	r.scalars = append([]ScalarMapping{m}, r.scalars...)
}

// RegisterShape overrides the handler for a composite kind.
func (r *Registry) RegisterShape(kind codec.Kind, h ShapeHandler) {
	r.shapes[kind] = h
}

// Warnings returns one message per unmapped type seen so far.
func (r *Registry) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

func (r *Registry) warn(typeName, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.warned[typeName]; ok {
		return
	}
	r.warned[typeName] = struct{}{}
	r.warnings = append(r.warnings, "unmapped type "+typeName+": "+reason)
	r.logger.Warn("unmapped wire type", zap.String("type", typeName), zap.String("reason", reason))
}

func kindIs(kind codec.Kind) func(*codec.TypeDef) bool {
	return func(d *codec.TypeDef) bool { return d.Kind == kind }
}

func uintUpTo(bits int) func(*codec.TypeDef) bool {
	return func(d *codec.TypeDef) bool {
		return (d.Kind == codec.KindUint || d.Kind == codec.KindInt) && d.Bits <= bits
	}
}

func wideInt(d *codec.TypeDef) bool {
	return (d.Kind == codec.KindUint || d.Kind == codec.KindInt) && d.Bits > 32
}

func byteArray(types *codec.Registry) func(*codec.TypeDef) bool {
	return func(d *codec.TypeDef) bool {
		if d.Kind != codec.KindFixed {
			return false
		}
		elem, err := types.Resolve(d.Elem)
		return err == nil && elem.Kind == codec.KindUint && elem.Bits == 8
	}
}

func defaultScalars(types *codec.Registry) []ScalarMapping {
	return []ScalarMapping{
		{Name: "AccountId", Match: kindIs(codec.KindAccountID), SDL: "String"},
		{Name: "bool", Match: kindIs(codec.KindBool), SDL: "Boolean"},
		{Name: "Moment", Match: kindIs(codec.KindMoment), SDL: BigIntScalar, Custom: true},
		{Name: "Hash", Match: kindIs(codec.KindHash), SDL: "String"},
		{Name: "Null", Match: kindIs(codec.KindNull), SDL: NullScalar, Custom: true},
		{Name: "Text", Match: kindIs(codec.KindText), SDL: "String"},
		{Name: "u32", Match: uintUpTo(32), SDL: "Int"},
		{Name: "u64/u128", Match: wideInt, SDL: BigIntScalar, Custom: true},
		{Name: "Bytes", Match: kindIs(codec.KindBytes), SDL: "[Int]"},
		{Name: "VecFixed", Match: byteArray(types), SDL: "String"},
	}
}
