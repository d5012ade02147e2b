package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/hanpama/chaingraph/internal/classifier"
)

// wasmGuest is a Guest backed by a wazero module instance.
type wasmGuest struct {
	runtime wazero.Runtime
	module  api.Module
	globals []string
}

// Load compiles and instantiates a query module with the host functions of a
// new Bridge.
func Load(ctx context.Context, wasm []byte, querier Querier, cls *classifier.Registry, opts ...Option) (*Bridge, error) {
	exports, err := ScanExports(wasm)
	if err != nil {
		return nil, err
	}
	b := newBridge(querier, cls, opts...)
	r := wazero.NewRuntime(ctx)
	if err := instantiateHost(ctx, r, b.Host()); err != nil {
		r.Close(ctx)
		return nil, err
	}
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile query module: %w", err)
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("query"))
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate query module: %w", err)
	}
	if mod.Memory() == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("%w: memory", ErrMissingExport)
	}
	g := &wasmGuest{runtime: r, module: mod}
	for _, e := range exports {
		if e.Kind == ExportGlobal {
			g.globals = append(g.globals, e.Name)
		}
	}
	if err := b.attach(g); err != nil {
		r.Close(ctx)
		return nil, err
	}
	return b, nil
}

func (g *wasmGuest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := g.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, name)
	}
	return fn.Call(ctx, params...)
}

func (g *wasmGuest) HasFunction(name string) bool { return g.module.ExportedFunction(name) != nil }

func (g *wasmGuest) Globals() []string { return g.globals }

func (g *wasmGuest) Global(name string) (uint32, bool) {
	gl := g.module.ExportedGlobal(name)
	if gl == nil {
		return 0, false
	}
	return api.DecodeU32(gl.Get()), true
}

func (g *wasmGuest) Memory() Memory { return g.module.Memory() }

func (g *wasmGuest) Close(ctx context.Context) error { return g.runtime.Close(ctx) }

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

func u32(stack []uint64, i int) uint32 { return api.DecodeU32(stack[i]) }

// instantiateHost registers the api, response, console and env host modules.
func instantiateHost(ctx context.Context, r wazero.Runtime, h *Host) error {
	type fn struct {
		name   string
		params []api.ValueType
		call   func(stack []uint64)
	}
	modules := []struct {
		name  string
		funcs []fn
	}{
		{"api", []fn{
			{"call", []api.ValueType{i32, i32, i32, i32}, func(s []uint64) {
				h.Call(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3))
			}},
			{"callWrapper", []api.ValueType{i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWrapper(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4))
			}},
			{"callWithKey", []api.ValueType{i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithKey(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4))
			}},
			{"callWithKeyWrapper", []api.ValueType{i32, i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithKeyWrapper(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4), u32(s, 5))
			}},
			{"callWithKeysBatch", []api.ValueType{i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithKeysBatch(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4))
			}},
			{"callWithArgNumber", []api.ValueType{i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithArgNumber(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4))
			}},
			{"callWithArgNumberWrapper", []api.ValueType{i32, i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithArgNumberWrapper(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4), u32(s, 5))
			}},
			{"callWithArgNumberWrapperBatch", []api.ValueType{i32, i32, i32, i32, i32, i32}, func(s []uint64) {
				h.CallWithArgNumberWrapperBatch(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3), u32(s, 4), u32(s, 5))
			}},
		}},
		{"response", []fn{
			{"pushObject", []api.ValueType{i32}, func(s []uint64) { h.PushObject(u32(s, 0)) }},
			{"popObject", []api.ValueType{i32}, func(s []uint64) { h.PopObject(u32(s, 0)) }},
			{"pushString", []api.ValueType{i32, i32}, func(s []uint64) { h.PushString(u32(s, 0), u32(s, 1)) }},
			{"stringField", []api.ValueType{i32, i32, i32}, func(s []uint64) {
				h.StringField(u32(s, 0), u32(s, 1), u32(s, 2))
			}},
			{"numberField", []api.ValueType{i32, i32, f64}, func(s []uint64) {
				h.NumberField(u32(s, 0), u32(s, 1), api.DecodeF64(s[2]))
			}},
		}},
		{"console", []fn{
			{"log", []api.ValueType{f64}, func(s []uint64) { h.Log(api.DecodeF64(s[0])) }},
			{"logs", []api.ValueType{i32}, func(s []uint64) { h.Logs(u32(s, 0)) }},
		}},
		{"env", []fn{
			{"abort", []api.ValueType{i32, i32, i32, i32}, func(s []uint64) {
				h.Abort(u32(s, 0), u32(s, 1), u32(s, 2), u32(s, 3))
			}},
		}},
	}

	for _, m := range modules {
		builder := r.NewHostModuleBuilder(m.name)
		for _, f := range m.funcs {
			call := f.call
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
					call(stack)
				}), f.params, nil).
				Export(f.name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("host module %s: %w", m.name, err)
		}
	}
	return nil
}
