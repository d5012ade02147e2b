// Package reqid carries a per-request identifier through contexts so that
// log lines, spans and guest executions of one HTTP request can be joined.
package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
)

type key struct{}

// NewContext returns a copy of parent carrying a fresh non-zero request ID.
func NewContext(parent context.Context) (context.Context, int64) {
	id := rand.Int64N(1<<63-1) + 1
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(key{}).(int64)
	return id, ok
}

// String formats id the way it is sent in the X-Request-Id header.
func String(id int64) string { return strconv.FormatInt(id, 36) }
