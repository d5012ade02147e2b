// Package chain talks to a node over JSON-RPC and decodes storage values.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("chain: connection closed")

// RPC issues JSON-RPC calls. result may be nil to discard the answer.
type RPC interface {
	Call(ctx context.Context, method string, result any, params ...any) error
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Client is a JSON-RPC client over a single websocket connection. Calls may
// be issued concurrently; answers are matched by request id.
type Client struct {
	endpoint string
	conn     *websocket.Conn
	logger   *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan response
	readErr error

	nextID atomic.Uint64
	done   chan struct{}
}

// ClientOption configures Dial.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger           *zap.Logger
	handshakeTimeout time.Duration
}

// WithClientLogger sets the logger used for connection level messages.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.handshakeTimeout = d }
}

// Dial connects to a node websocket endpoint such as ws://127.0.0.1:9944.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	cfg := clientConfig{logger: zap.NewNop(), handshakeTimeout: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	c := &Client{
		endpoint: endpoint,
		conn:     conn,
		logger:   cfg.logger.With(zap.String("endpoint", endpoint)),
		pending:  make(map[uint64]chan response),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg response
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.pending = nil
			c.mu.Unlock()
			c.logger.Debug("read loop stopped", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("dropping unsolicited message", zap.Uint64("id", msg.ID))
			continue
		}
		ch <- msg
	}
}

// Call sends method with params and decodes the result into result.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) (err error) {
	id := c.nextID.Add(1)
	start := time.Now()
	eventbus.Publish(ctx, events.ChainRPCStart{ID: id, Method: method, Endpoint: c.endpoint})
	defer func() {
		eventbus.Publish(ctx, events.ChainRPCFinish{
			ID:       id,
			Method:   method,
			Endpoint: c.endpoint,
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	if params == nil {
		params = []any{}
	}
	ch := make(chan response, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case resp := <-ch:
		return decodeResponse(method, resp, result)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.done:
		// the answer may have arrived just before the connection dropped
		select {
		case resp := <-ch:
			return decodeResponse(method, resp, result)
		default:
			return ErrClosed
		}
	}
}

func decodeResponse(method string, resp response, result any) error {
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close closes the connection and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
