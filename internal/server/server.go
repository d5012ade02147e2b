// Package server exposes the assembled chain schema over HTTP following the
// GraphQL-over-HTTP conventions: GET with URL parameters, POST with a JSON or
// application/graphql body, and JSON arrays of operations executed as a
// batch.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
	executor "github.com/hanpama/chaingraph/internal/executor"
	language "github.com/hanpama/chaingraph/internal/language"
	reqid "github.com/hanpama/chaingraph/internal/reqid"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// Handler executes GraphQL requests against one schema.
type Handler struct {
	exec *executor.Executor
	opt  Options
	log  *zap.Logger
}

type Options struct {
	// Timeout bounds a request whose context has no deadline. 0 disables it.
	Timeout time.Duration

	// Pretty indents JSON responses.
	Pretty bool

	// MaxBodyBytes caps POST bodies. 0 means unlimited.
	MaxBodyBytes int64

	// BatchConcurrency bounds how many operations of one batch run at once.
	BatchConcurrency int

	// CORSOrigins lists the allowed origins; "*" allows any. Empty disables
	// CORS headers.
	CORSOrigins []string

	// GraphiQL serves the in-browser IDE to GET requests that accept HTML.
	GraphiQL bool

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithBatchConcurrency(n int) Option  { return func(o *Options) { o.BatchConcurrency = n } }
func WithGraphiQL(enable bool) Option    { return func(o *Options) { o.GraphiQL = enable } }
func WithLogger(l *zap.Logger) Option    { return func(o *Options) { o.Logger = l } }

func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORSOrigins = origins }
}

// New returns a handler executing against runtime and sch.
func New(runtime executor.Runtime, sch *schema.Schema, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, GraphiQL: true, BatchConcurrency: 4}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	return &Handler{
		exec: executor.NewExecutor(runtime, sch),
		opt:  op,
		log:  op.Logger.Named("http"),
	}, nil
}

// GraphQLRequest is one operation as posted by a client.
type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// requestError is a failure before execution; it maps to an HTTP status.
type requestError struct {
	status int
	msg    string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.NewContext(ctx)
	w.Header().Set("X-Request-Id", reqid.String(rid))

	start := time.Now()
	status := http.StatusOK
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	h.cors(w, r)
	switch r.Method {
	case http.MethodOptions:
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	case http.MethodGet:
		if h.opt.GraphiQL && r.URL.Query().Get("query") == "" && acceptsHTML(r) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(graphiqlPage)
			return
		}
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		status = http.StatusMethodNotAllowed
		h.write(w, status, failed("method not allowed"))
		return
	}

	reqs, batch, rerr := h.decode(w, r)
	if rerr != nil {
		status = rerr.status
		h.log.Debug("rejected request",
			zap.String("request_id", reqid.String(rid)),
			zap.String("reason", rerr.msg))
		h.write(w, status, failed(rerr.msg))
		return
	}

	results := make([]*executor.ExecutionResult, len(reqs))
	g := errgroup.Group{}
	g.SetLimit(max(h.opt.BatchConcurrency, 1))
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = h.execute(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	if batch {
		h.write(w, status, results)
		return
	}
	h.write(w, status, results[0])
}

// decode reads the operations of r. batch reports a JSON array body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (reqs []GraphQLRequest, batch bool, rerr *requestError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := GraphQLRequest{Query: q.Get("query"), OperationName: q.Get("operationName")}
		if v := q.Get("variables"); v != "" {
			if err := unmarshal([]byte(v), &req.Variables); err != nil {
				return nil, false, &requestError{http.StatusBadRequest, "invalid 'variables' JSON"}
			}
		}
		if req.Query == "" {
			return nil, false, &requestError{http.StatusBadRequest, "missing 'query'"}
		}
		return []GraphQLRequest{req}, false, nil
	}

	body := r.Body
	if h.opt.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.opt.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, false, &requestError{http.StatusRequestEntityTooLarge, "body too large"}
		}
		return nil, false, &requestError{http.StatusBadRequest, "failed to read body"}
	}

	mediaType := "application/json"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err = mime.ParseMediaType(ct); err != nil {
			return nil, false, &requestError{http.StatusUnsupportedMediaType, "invalid Content-Type"}
		}
	}
	switch mediaType {
	case "application/graphql":
		return []GraphQLRequest{{Query: string(data)}}, false, nil
	case "application/json":
	default:
		return nil, false, &requestError{http.StatusUnsupportedMediaType, "unsupported Content-Type " + mediaType}
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		if err := unmarshal(data, &reqs); err != nil {
			return nil, false, &requestError{http.StatusBadRequest, "invalid JSON"}
		}
		if len(reqs) == 0 {
			return nil, false, &requestError{http.StatusBadRequest, "empty batch"}
		}
		return reqs, true, nil
	}
	var req GraphQLRequest
	if err := unmarshal(data, &req); err != nil {
		return nil, false, &requestError{http.StatusBadRequest, "invalid JSON"}
	}
	if req.Query == "" {
		return nil, false, &requestError{http.StatusBadRequest, "missing 'query'"}
	}
	return []GraphQLRequest{req}, false, nil
}

// unmarshal keeps numbers as json.Number so that BigInt variables such as
// balances and block numbers arrive exact.
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func (h *Handler) execute(ctx context.Context, req GraphQLRequest) *executor.ExecutionResult {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		var ge *language.Error
		if errors.As(err, &ge) {
			return syntaxError(ge)
		}
		return failed(err.Error())
	}

	var opType string
	if op := doc.Operations.ForName(req.OperationName); op != nil {
		opType = string(op.Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	errs := make([]error, len(result.Errors))
	for i, e := range result.Errors {
		errs[i] = e
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      time.Since(start),
	})

	if len(result.Errors) > 0 {
		rid, _ := reqid.FromContext(ctx)
		h.log.Debug("operation finished with errors",
			zap.String("request_id", reqid.String(rid)),
			zap.String("operation", req.OperationName),
			zap.Int("errors", len(result.Errors)),
			zap.String("first", result.Errors[0].Message))
	}
	return result
}

func failed(msg string) *executor.ExecutionResult {
	return &executor.ExecutionResult{Errors: []executor.GraphQLError{{Message: msg}}}
}

func syntaxError(ge *language.Error) *executor.ExecutionResult {
	e := executor.GraphQLError{Message: ge.Message}
	for _, loc := range ge.Locations {
		e.Locations = append(e.Locations, executor.Location{Line: loc.Line, Column: loc.Column})
	}
	return &executor.ExecutionResult{Errors: []executor.GraphQLError{e}}
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.log.Debug("write response", zap.Error(err))
	}
}

func (h *Handler) cors(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	allowed := h.opt.CORSOrigins
	if origin == "" || len(allowed) == 0 {
		return
	}
	switch {
	case slices.Contains(allowed, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(allowed, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	default:
		return
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
}

func acceptsHTML(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if mt == "text/html" || mt == "*/*" {
			return true
		}
	}
	return false
}
