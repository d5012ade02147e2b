package bridge

import (
	"context"
	"time"
)

// arena owns the guest pointers allocated for one execution. free releases
// each of them exactly once.
type arena struct {
	ptrs  []uint32
	freed bool
}

func (a *arena) keep(ptr uint32) uint32 {
	a.ptrs = append(a.ptrs, ptr)
	return ptr
}

func (a *arena) free(release func(uint32)) {
	if a.freed {
		return
	}
	a.freed = true
	for i := len(a.ptrs) - 1; i >= 0; i-- {
		release(a.ptrs[i])
	}
	a.ptrs = nil
}

// taskGroup joins the synchronous resolve call and every outstanding host
// call of a context. onZero runs once, when the last member leaves.
type taskGroup struct {
	n      int
	fired  bool
	onZero func()
}

func (g *taskGroup) add() { g.n++ }

func (g *taskGroup) done() {
	g.n--
	if g.n == 0 && !g.fired {
		g.fired = true
		g.onZero()
	}
}

// execContext is the state of one in-flight execution. All fields are
// guarded by the bridge mutex.
type execContext struct {
	ctx   context.Context
	ptr   uint32
	path  string
	start time.Time

	// response is the root array; objects holds the open containers.
	response []any
	objects  []map[string]any

	arena     arena
	tasks     taskGroup
	hostCalls int

	aborted   bool
	completed bool
	forced    bool
	err       error
	done      chan struct{}
}

func (c *execContext) pushObject() {
	obj := map[string]any{}
	c.response = append(c.response, obj)
	c.objects = append(c.objects, obj)
}

func (c *execContext) popObject() bool {
	if len(c.objects) == 0 {
		return false
	}
	c.objects = c.objects[:len(c.objects)-1]
	return true
}

// field sets key on the innermost open object.
func (c *execContext) field(key string, v any) bool {
	if len(c.objects) == 0 {
		return false
	}
	c.objects[len(c.objects)-1][key] = v
	return true
}

// pushString appends to the root array; it is only valid with no object open.
func (c *execContext) pushString(s string) bool {
	if len(c.objects) != 0 {
		return false
	}
	c.response = append(c.response, s)
	return true
}
