// Package events lists the payloads published on the event bus. Publishers
// emit a Start/Finish pair around each unit of work; subscribers (metrics,
// tracing) correlate pairs through the request id on the context.
package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when a request reaches the GraphQL endpoint.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the response has been written.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// GraphQLStart is emitted once an operation parsed and is about to execute.
type GraphQLStart struct {
	Query         string
	OperationName string
	OperationType string
}

type GraphQLFinish struct {
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}

// ChainRPCStart is emitted before a JSON-RPC request is written to the
// node. ID is the request id on the connection.
type ChainRPCStart struct {
	ID       uint64
	Method   string
	Endpoint string
}

// ChainRPCFinish is emitted when the node answered or the call gave up.
type ChainRPCFinish struct {
	ID       uint64
	Method   string
	Endpoint string
	Err      error
	Duration time.Duration
}

// StorageQuery is emitted after one module's storage items were read in a
// single state query. At is the pinned block hash, empty for the head.
type StorageQuery struct {
	Module   string
	Items    []string
	At       string
	Err      error
	Duration time.Duration
}

// GuestExecStart is emitted when a guest resolver execution begins.
type GuestExecStart struct {
	Context uint32
	Path    string
}

// GuestExecFinish is emitted once per execution, when its context completes.
// Forced is set when completion bypassed the task group: an abort, a rejected
// host call or a cancelled context.
type GuestExecFinish struct {
	Context   uint32
	Path      string
	HostCalls int
	Forced    bool
	Err       error
	Duration  time.Duration
}
