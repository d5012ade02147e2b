// Package otel turns the events published on the bus into OpenTelemetry
// spans: one per HTTP request, a child per operation, and children of the
// operation for node round trips and guest executions. Storage reads are
// recorded as span events on the operation.
package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
	reqid "github.com/hanpama/chaingraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup exports spans to the OTLP collector at endpoint and subscribes to
// the bus. With an empty endpoint nothing is installed. The returned
// function flushes and stops the exporter.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(service)))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(service))),
	)
	otel.SetTracerProvider(tp)

	t := &tracer{tr: tp.Tracer("github.com/hanpama/chaingraph")}
	unsubscribe := t.subscribe()
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// spanKey identifies an open span. Requests and operations use seq 0; node
// calls and guest executions overlap within a request and carry their own id.
type spanKey struct {
	kind string
	rid  int64
	seq  uint64
}

type tracer struct {
	tr   trace.Tracer
	open sync.Map // spanKey -> trace.Span
}

func (t *tracer) start(parent context.Context, k spanKey, name string, attrs ...attribute.KeyValue) {
	_, span := t.tr.Start(parent, name, trace.WithAttributes(attrs...))
	t.open.Store(k, span)
}

func (t *tracer) end(k spanKey, err error, attrs ...attribute.KeyValue) {
	v, ok := t.open.LoadAndDelete(k)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// within returns ctx carrying the innermost open span of request rid.
func (t *tracer) within(ctx context.Context, rid int64) context.Context {
	for _, kind := range []string{"graphql", "http"} {
		if v, ok := t.open.Load(spanKey{kind: kind, rid: rid}); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func rid(ctx context.Context) int64 {
	id, _ := reqid.FromContext(ctx)
	return id
}

func (t *tracer) subscribe() func() {
	subs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			t.start(ctx, spanKey{kind: "http", rid: rid(ctx)}, "http.request",
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			t.end(spanKey{kind: "http", rid: rid(ctx)}, nil, semconv.HTTPStatusCodeKey.Int(e.Status))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLStart) {
			id := rid(ctx)
			t.start(t.within(ctx, id), spanKey{kind: "graphql", rid: id}, "graphql.operation",
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GraphQLFinish) {
			t.end(spanKey{kind: "graphql", rid: rid(ctx)}, nil, attribute.Int("graphql.error_count", len(e.Errors)))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ChainRPCStart) {
			id := rid(ctx)
			t.start(t.within(ctx, id), spanKey{"rpc", id, e.ID}, "chain.rpc",
				semconv.RPCSystemKey.String("jsonrpc"),
				semconv.RPCMethodKey.String(e.Method),
				attribute.String("net.peer.name", e.Endpoint))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ChainRPCFinish) {
			t.end(spanKey{"rpc", rid(ctx), e.ID}, e.Err)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.StorageQuery) {
			trace.SpanFromContext(t.within(ctx, rid(ctx))).AddEvent("chain.storage", trace.WithAttributes(
				attribute.String("chain.module", e.Module),
				attribute.StringSlice("chain.items", e.Items),
				attribute.String("chain.at", e.At),
				attribute.Bool("chain.failed", e.Err != nil),
			))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GuestExecStart) {
			id := rid(ctx)
			t.start(t.within(ctx, id), spanKey{"guest", id, uint64(e.Context)}, "guest.execute",
				attribute.String("guest.resolver", e.Path))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.GuestExecFinish) {
			t.end(spanKey{"guest", rid(ctx), uint64(e.Context)}, e.Err,
				attribute.Int("guest.host_calls", e.HostCalls),
				attribute.Bool("guest.forced", e.Forced))
		}),
	}
	return func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
	}
}
