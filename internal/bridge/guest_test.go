package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMemory struct{ buf []byte }

func (m *fakeMemory) Read(offset, n uint32) ([]byte, bool) {
	if uint64(offset)+uint64(n) > uint64(len(m.buf)) {
		return nil, false
	}
	return m.buf[offset : offset+n], true
}

func (m *fakeMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(m.buf)) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	b, ok := m.Read(offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

// resolveFunc is a guest resolver body. Returning an error traps the call.
type resolveFunc func(g *fakeGuest, ctx uint32) error

// callbackFunc is a guest function reached through glue.Dispatch.
type callbackFunc func(g *fakeGuest, ctx uint32, value any, wrapper uint32) error

type fakeResolver struct {
	name    string
	typ     string
	filters []string
	resolve resolveFunc
}

// fakeGuest is a Go rendition of a compiled query module. It keeps the
// guest side JSON values as Go values and tracks every pointer handed to
// the host so tests can check that each is released once.
type fakeGuest struct {
	mem  *fakeMemory
	next uint32
	host *Host

	live        map[uint32]bool
	doubleFrees int

	jsons   map[uint32]any
	maps    map[uint32]map[string]any
	arrays  map[uint32][]any
	params  map[uint32]map[string]any
	parents map[uint32]map[string]any

	resolvers []fakeResolver
	callbacks map[uint32]callbackFunc
	missing   map[string]bool
}

func newFakeGuest(resolvers ...fakeResolver) *fakeGuest {
	return &fakeGuest{
		mem:       &fakeMemory{buf: make([]byte, 1<<20)},
		next:      64,
		live:      map[uint32]bool{},
		jsons:     map[uint32]any{},
		maps:      map[uint32]map[string]any{},
		arrays:    map[uint32][]any{},
		params:    map[uint32]map[string]any{},
		parents:   map[uint32]map[string]any{},
		resolvers: resolvers,
		callbacks: map[uint32]callbackFunc{},
		missing:   map[string]bool{},
	}
}

// alloc reserves size bytes behind a 16 byte header holding the size.
func (g *fakeGuest) alloc(size uint32) uint32 {
	ptr := g.next + 16
	binary.LittleEndian.PutUint32(g.mem.buf[ptr-4:], size)
	g.next = ptr + (size+15)&^15
	return ptr
}

// str writes a guest owned string.
func (g *fakeGuest) str(s string) uint32 {
	raw := encodeString(s)
	ptr := g.alloc(uint32(len(raw)))
	copy(g.mem.buf[ptr:], raw)
	return ptr
}

// array writes a guest owned array of u32 elements.
func (g *fakeGuest) array(elems ...uint32) uint32 {
	data := g.alloc(uint32(4 * len(elems)))
	for i, e := range elems {
		binary.LittleEndian.PutUint32(g.mem.buf[data+4*uint32(i):], e)
	}
	ptr := g.alloc(16)
	binary.LittleEndian.PutUint32(g.mem.buf[ptr+4:], data)
	binary.LittleEndian.PutUint32(g.mem.buf[ptr+12:], uint32(len(elems)))
	return ptr
}

func (g *fakeGuest) owned(ptr uint32) uint32 {
	g.live[ptr] = true
	return ptr
}

func (g *fakeGuest) handle(name string) (uint32, bool) {
	for i, r := range g.resolvers {
		if ResolversPrefix+r.name == name {
			return uint32(i + 1), true
		}
	}
	return 0, false
}

func (g *fakeGuest) Call(ctx context.Context, name string, p ...uint64) ([]uint64, error) {
	one := func(v uint32) ([]uint64, error) { return []uint64{uint64(v)}, nil }
	arg := func(i int) uint32 { return uint32(p[i]) }

	switch name {
	case exportAlloc:
		return one(g.alloc(arg(0)))
	case exportRetain:
		return one(g.owned(arg(0)))
	case exportRelease:
		if !g.live[arg(0)] {
			g.doubleFrees++
		}
		delete(g.live, arg(0))
		return nil, nil
	case exportNewStringJSONMap:
		ptr := g.owned(g.alloc(16))
		g.maps[ptr] = map[string]any{}
		return one(ptr)
	case exportSetTypedMapEntry:
		key, err := readString(g.mem, arg(1))
		if err != nil {
			return nil, err
		}
		g.maps[arg(0)][key] = g.jsons[arg(2)]
		return nil, nil
	case exportNewJSON:
		var v any
		value := math.Float64frombits(p[1])
		switch JSONKind(arg(0)) {
		case JSONBool:
			v = value != 0
		case JSONNumber:
			v = value
		case JSONString:
			s, err := readString(g.mem, uint32(value))
			if err != nil {
				return nil, err
			}
			v = s
		case JSONArray:
			v = g.arrays[uint32(value)]
		case JSONObject:
			v = g.maps[uint32(value)]
		}
		ptr := g.owned(g.alloc(8))
		g.jsons[ptr] = v
		return one(ptr)
	case exportNewJSONArray:
		ptr := g.owned(g.alloc(16))
		g.arrays[ptr] = []any{}
		return one(ptr)
	case exportPushJSONArray:
		g.arrays[arg(0)] = append(g.arrays[arg(0)], g.jsons[arg(1)])
		return nil, nil
	case exportNewContext:
		return one(g.owned(g.alloc(32)))
	case exportSetContextParams:
		g.params[arg(0)] = g.maps[arg(1)]
		return nil, nil
	case exportSetContextParent:
		g.parents[arg(0)] = g.maps[arg(1)]
		return nil, nil
	case exportResolveQuery:
		return nil, g.resolvers[arg(0)-1].resolve(g, arg(1))
	case exportResolverType:
		return one(g.owned(g.str(g.resolvers[arg(0)-1].typ)))
	case exportResolverParams:
		var elems []uint32
		for _, f := range g.resolvers[arg(0)-1].filters {
			elems = append(elems, g.str(f))
		}
		return one(g.owned(g.array(elems...)))
	case exportDispatch:
		cb, ok := g.callbacks[arg(0)]
		if !ok {
			return nil, fmt.Errorf("no callback at table index %d", arg(0))
		}
		return nil, cb(g, arg(1), g.jsons[arg(2)], arg(3))
	}
	return nil, fmt.Errorf("unknown export %s", name)
}

func (g *fakeGuest) HasFunction(name string) bool {
	if g.missing[name] {
		return false
	}
	switch name {
	case exportAlloc, exportRetain, exportRelease, exportNewStringJSONMap, exportSetTypedMapEntry,
		exportNewJSON, exportNewJSONArray, exportPushJSONArray, exportNewContext, exportResolveQuery,
		exportResolverType, exportResolverParams, exportSetContextParams, exportSetContextParent,
		exportDispatch:
		return true
	}
	return false
}

func (g *fakeGuest) Globals() []string {
	out := []string{"__heap_base"}
	for _, r := range g.resolvers {
		out = append(out, ResolversPrefix+r.name)
	}
	return out
}

func (g *fakeGuest) Global(name string) (uint32, bool) { return g.handle(name) }

func (g *fakeGuest) Memory() Memory { return g.mem }

func (g *fakeGuest) Close(context.Context) error { return nil }

// balanced checks that every host owned pointer was released exactly once.
func (g *fakeGuest) balanced(t *testing.T) {
	t.Helper()
	require.Empty(t, g.live, "leaked guest pointers")
	require.Zero(t, g.doubleFrees, "released pointers twice")
}
