package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/chaingraph/internal/classifier"
	"github.com/hanpama/chaingraph/internal/codec"
)

// JSONKind tags values marshaled into guest memory.
type JSONKind uint32

const (
	JSONNull JSONKind = iota
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// maxSafeInteger is the largest integer a guest f64 holds exactly.
const maxSafeInteger = 1<<53 - 1

// Host is the function surface imported by the guest under the api,
// response, console and env namespaces. Its methods run inside guest calls,
// with the bridge mutex held.
type Host struct {
	b *Bridge
}

func (h *Host) str(ptr uint32) (string, error) {
	return readString(h.b.guest.Memory(), ptr)
}

func (h *Host) lookup(ptr uint32) *execContext {
	ec, err := h.b.lookup(ptr)
	if err != nil {
		h.b.logger.Warn("host call outside execution", zap.Error(err))
		return nil
	}
	return ec
}

// Call queries a Plain item and dispatches the value to callback.
func (h *Host) Call(ctxPtr, modulePtr, storagePtr, callback uint32) {
	h.query(ctxPtr, modulePtr, storagePtr, nil, callback, 0)
}

// CallWrapper is Call with a second table index handed to callback.
func (h *Host) CallWrapper(ctxPtr, modulePtr, storagePtr, callback, wrapper uint32) {
	h.query(ctxPtr, modulePtr, storagePtr, nil, callback, wrapper)
}

// CallWithKey queries a Map item at the string key.
func (h *Host) CallWithKey(ctxPtr, modulePtr, storagePtr, keyPtr, callback uint32) {
	h.CallWithKeyWrapper(ctxPtr, modulePtr, storagePtr, keyPtr, callback, 0)
}

// CallWithKeyWrapper is CallWithKey with a second table index.
func (h *Host) CallWithKeyWrapper(ctxPtr, modulePtr, storagePtr, keyPtr, callback, wrapper uint32) {
	key, err := h.str(keyPtr)
	if err != nil {
		h.reject(ctxPtr, err)
		return
	}
	h.query(ctxPtr, modulePtr, storagePtr, []*string{&key}, callback, wrapper)
}

// CallWithKeysBatch queries a Map item once per key of a guest string array
// and dispatches every value, in key order, after all of them arrived.
func (h *Host) CallWithKeysBatch(ctxPtr, modulePtr, storagePtr, keysPtr, callback uint32) {
	keys, err := readStrings(h.b.guest.Memory(), keysPtr)
	if err != nil {
		h.reject(ctxPtr, err)
		return
	}
	h.query(ctxPtr, modulePtr, storagePtr, stringRefs(keys), callback, 0)
}

// CallWithArgNumber is the numeric key form used by older guests.
func (h *Host) CallWithArgNumber(ctxPtr, modulePtr, storagePtr, key, callback uint32) {
	h.CallWithArgNumberWrapper(ctxPtr, modulePtr, storagePtr, key, callback, 0)
}

// CallWithArgNumberWrapper is CallWithArgNumber with a second table index.
func (h *Host) CallWithArgNumberWrapper(ctxPtr, modulePtr, storagePtr, key, callback, wrapper uint32) {
	k := strconv.FormatUint(uint64(key), 10)
	h.query(ctxPtr, modulePtr, storagePtr, []*string{&k}, callback, wrapper)
}

// CallWithArgNumberWrapperBatch batches numeric keys from a guest i32 array.
func (h *Host) CallWithArgNumberWrapperBatch(ctxPtr, modulePtr, storagePtr, keysPtr, callback, wrapper uint32) {
	nums, err := readArray(h.b.guest.Memory(), keysPtr)
	if err != nil {
		h.reject(ctxPtr, err)
		return
	}
	keys := make([]string, len(nums))
	for i, n := range nums {
		keys[i] = strconv.FormatUint(uint64(n), 10)
	}
	h.query(ctxPtr, modulePtr, storagePtr, stringRefs(keys), callback, wrapper)
}

func stringRefs(keys []string) []*string {
	out := make([]*string, len(keys))
	for i := range keys {
		out[i] = &keys[i]
	}
	return out
}

// reject completes the context when a host call could not even be issued.
func (h *Host) reject(ctxPtr uint32, err error) {
	ec := h.lookup(ctxPtr)
	if ec == nil {
		return
	}
	h.b.logger.Error("host call rejected", zap.String("resolver", ec.path), zap.Error(err))
	h.b.complete(ec.ctx, ec, true, fmt.Errorf("%w: %v", ErrHostCall, err))
}

// query registers one task on the context and resolves it in the background.
// A nil keys slice queries a Plain item once.
func (h *Host) query(ctxPtr, modulePtr, storagePtr uint32, keys []*string, callback, wrapper uint32) {
	ec := h.lookup(ctxPtr)
	if ec == nil {
		return
	}
	module, err := h.str(modulePtr)
	if err != nil {
		h.reject(ctxPtr, err)
		return
	}
	storage, err := h.str(storagePtr)
	if err != nil {
		h.reject(ctxPtr, err)
		return
	}
	if keys == nil {
		keys = []*string{nil}
	}
	ec.tasks.add()
	ec.hostCalls++
	go h.b.resolveHostCall(ec, module, storage, keys, callback, wrapper)
}

func (b *Bridge) resolveHostCall(ec *execContext, module, storage string, keys []*string, callback, wrapper uint32) {
	values := make([]codec.Value, len(keys))
	g, gctx := errgroup.WithContext(ec.ctx)
	for i, key := range keys {
		g.Go(func() error {
			v, err := b.querier.Query(gctx, module, storage, key, "")
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	err := g.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if ec.completed {
		return
	}
	if cerr := ec.ctx.Err(); cerr != nil {
		b.complete(ec.ctx, ec, true, cerr)
		return
	}
	if err != nil {
		b.logger.Error("chain query failed",
			zap.String("resolver", ec.path),
			zap.String("module", module),
			zap.String("storage", storage),
			zap.Error(err))
		b.complete(ec.ctx, ec, true, fmt.Errorf("%w: %s.%s: %w", ErrHostCall, module, storage, err))
		return
	}
	for _, v := range values {
		ptr, err := b.marshalJSON(ec.ctx, ec, b.classifier.Serialize(v))
		if err != nil {
			b.complete(ec.ctx, ec, true, err)
			return
		}
		b.enter(ec.ctx, ec, exportDispatch, uint64(callback), uint64(ec.ptr), uint64(ptr), uint64(wrapper))
		if ec.completed {
			return
		}
	}
	ec.tasks.done()
}

// PushObject opens a new object in the response.
func (h *Host) PushObject(ctxPtr uint32) {
	if ec := h.lookup(ctxPtr); ec != nil {
		ec.pushObject()
	}
}

// PopObject closes the innermost object.
func (h *Host) PopObject(ctxPtr uint32) {
	if ec := h.lookup(ctxPtr); ec != nil && !ec.popObject() {
		h.b.logger.Warn("popObject with no open object", zap.String("resolver", ec.path))
	}
}

// PushString appends a string to the response array.
func (h *Host) PushString(ctxPtr, valuePtr uint32) {
	ec := h.lookup(ctxPtr)
	if ec == nil {
		return
	}
	s, err := h.str(valuePtr)
	if err != nil {
		h.b.logger.Warn("pushString", zap.String("resolver", ec.path), zap.Error(err))
		return
	}
	if !ec.pushString(s) {
		h.b.logger.Warn("pushString inside an object", zap.String("resolver", ec.path))
	}
}

// StringField sets a string field on the innermost object.
func (h *Host) StringField(ctxPtr, keyPtr, valuePtr uint32) {
	ec := h.lookup(ctxPtr)
	if ec == nil {
		return
	}
	key, err := h.str(keyPtr)
	if err == nil {
		var v string
		if v, err = h.str(valuePtr); err == nil {
			if !ec.field(key, v) {
				h.b.logger.Warn("stringField with no open object", zap.String("resolver", ec.path), zap.String("key", key))
			}
			return
		}
	}
	h.b.logger.Warn("stringField", zap.String("resolver", ec.path), zap.Error(err))
}

// NumberField sets a number field on the innermost object.
func (h *Host) NumberField(ctxPtr, keyPtr uint32, value float64) {
	ec := h.lookup(ctxPtr)
	if ec == nil {
		return
	}
	key, err := h.str(keyPtr)
	if err != nil {
		h.b.logger.Warn("numberField", zap.String("resolver", ec.path), zap.Error(err))
		return
	}
	if !ec.field(key, value) {
		h.b.logger.Warn("numberField with no open object", zap.String("resolver", ec.path), zap.String("key", key))
	}
}

// Log is console.log for numbers.
func (h *Host) Log(value float64) {
	h.b.logger.Info("guest console", zap.Float64("value", value))
}

// Logs is console.log for strings.
func (h *Host) Logs(msgPtr uint32) {
	msg, err := h.str(msgPtr)
	if err != nil {
		h.b.logger.Warn("guest console", zap.Error(err))
		return
	}
	h.b.logger.Info("guest console", zap.String("message", msg))
}

// Abort is env.abort. The guest traps right after it; the execution that was
// running is completed with its partial response.
func (h *Host) Abort(msgPtr, filePtr, line, column uint32) {
	msg, _ := h.str(msgPtr)
	file, _ := h.str(filePtr)
	fields := []zap.Field{
		zap.String("message", msg),
		zap.String("file", file),
		zap.Uint32("line", line),
		zap.Uint32("column", column),
	}
	if ec := h.b.current; ec != nil {
		ec.aborted = true
		fields = append(fields, zap.String("resolver", ec.path))
	}
	h.b.logger.Error("guest abort", fields...)
}

// allocString copies s into guest memory and retains it for ec.
func (b *Bridge) allocString(ctx context.Context, ec *execContext, s string) (uint32, error) {
	raw := encodeString(s)
	ptr, err := b.call(ctx, exportAlloc, uint64(len(raw)), stringClassID)
	if err != nil {
		return 0, err
	}
	if !b.guest.Memory().Write(ptr, raw) {
		return 0, fmt.Errorf("string of %d bytes at %d out of range", len(raw), ptr)
	}
	if _, err := b.call(ctx, exportRetain, uint64(ptr)); err != nil {
		return 0, err
	}
	return ec.arena.keep(ptr), nil
}

// marshalJSON builds a guest JSON value for v.
func (b *Bridge) marshalJSON(ctx context.Context, ec *execContext, v any) (uint32, error) {
	kind, value := JSONNull, 0.0
	switch x := v.(type) {
	case nil:
	case bool:
		kind = JSONBool
		if x {
			value = 1
		}
	case int:
		kind, value = JSONNumber, float64(x)
	case int64:
		kind, value = JSONNumber, float64(x)
	case uint32:
		kind, value = JSONNumber, float64(x)
	case uint64:
		kind, value = JSONNumber, float64(x)
	case float64:
		kind, value = JSONNumber, x
	case json.Number:
		// wide integers stay exact as strings once they leave the f64 range
		if i, err := x.Int64(); err == nil && i <= maxSafeInteger && i >= -maxSafeInteger {
			kind, value = JSONNumber, float64(i)
			break
		}
		ptr, err := b.allocString(ctx, ec, x.String())
		if err != nil {
			return 0, err
		}
		kind, value = JSONString, float64(ptr)
	case string:
		ptr, err := b.allocString(ctx, ec, x)
		if err != nil {
			return 0, err
		}
		kind, value = JSONString, float64(ptr)
	case []any:
		if !b.hasArray {
			break
		}
		arr, err := b.call(ctx, exportNewJSONArray)
		if err != nil {
			return 0, err
		}
		ec.arena.keep(arr)
		for _, item := range x {
			ptr, err := b.marshalJSON(ctx, ec, item)
			if err != nil {
				return 0, err
			}
			if _, err := b.call(ctx, exportPushJSONArray, uint64(arr), uint64(ptr)); err != nil {
				return 0, err
			}
		}
		kind, value = JSONArray, float64(arr)
	default:
		m, ok := asMap(v)
		if !ok {
			return 0, fmt.Errorf("cannot pass %T to the guest", v)
		}
		ptr, err := b.marshalMap(ctx, ec, m)
		if err != nil {
			return 0, err
		}
		kind, value = JSONObject, float64(ptr)
	}
	ptr, err := b.call(ctx, exportNewJSON, uint64(kind), math.Float64bits(value))
	if err != nil {
		return 0, err
	}
	return ec.arena.keep(ptr), nil
}

// object is a key ordered view over map-like values.
type object struct {
	keys []string
	get  func(string) any
}

func asMap(v any) (object, bool) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return object{keys: keys, get: func(k string) any { return x[k] }}, true
	case *classifier.Object:
		return object{keys: x.Keys(), get: func(k string) any { v, _ := x.Get(k); return v }}, true
	}
	return object{}, false
}

// marshalMap builds a guest string to JSON map.
func (b *Bridge) marshalMap(ctx context.Context, ec *execContext, m object) (uint32, error) {
	out, err := b.call(ctx, exportNewStringJSONMap)
	if err != nil {
		return 0, err
	}
	ec.arena.keep(out)
	for _, k := range m.keys {
		kp, err := b.allocString(ctx, ec, k)
		if err != nil {
			return 0, err
		}
		vp, err := b.marshalJSON(ctx, ec, m.get(k))
		if err != nil {
			return 0, err
		}
		if _, err := b.call(ctx, exportSetTypedMapEntry, uint64(out), uint64(kp), uint64(vp)); err != nil {
			return 0, err
		}
	}
	return out, nil
}
