package rmi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 1 << 20

// Channel sends a named call with positional arguments and waits for exactly one matching response.
// Implementations must deliver calls from one goroutine in the order they were made,
// and call Sent(ctx) as soon as a call's position in that order is fixed.
type Channel interface {
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
}

// Client is a Channel backed by a WebSocket connection to a Server.
// It is safe for concurrent use.
type Client struct {
	log        *zap.SugaredLogger
	httpClient *http.Client

	conn   *websocket.Conn
	ctx    context.Context
	cancel func()
	writer *connWriter

	mut     sync.Mutex
	waiters map[string]chan callResult
	err     error

	wg            sync.WaitGroup
	closeConnOnce sync.Once
}

type ClientOption func(c *Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = l.Named("rmi_client").Sugar()
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake in Dial.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

type callResult struct {
	resp response
	err  error
}

// Dial opens a WebSocket connection to the Server at url and returns a Client using it.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := newClient(opts)
	c.log.Debugw("dialing WebSocket", "URL", url)
	wsConn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      c.httpClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.log.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	c.start(wsConn)
	return c, nil
}

// NewClient returns a Client using an already established WebSocket connection.
// The Client takes ownership of the connection.
func NewClient(conn *websocket.Conn, opts ...ClientOption) *Client {
	c := newClient(opts)
	c.start(conn)
	return c
}

func newClient(opts []ClientOption) *Client {
	c := &Client{
		log:     zap.NewNop().Sugar(),
		waiters: map[string]chan callResult{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) start(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	// Writes use the connection's context rather than the caller's.
	// A canceled write context makes the websocket library close the whole connection.
	c.writer = &connWriter{log: c.log.Named("writer"), ctx: c.ctx, conn: conn}

	c.wg.Add(1)
	go c.readMessages()
}

// Invoke calls method on the remote object and waits for its response.
// If ctx is done first, the call is abandoned locally and ctx.Err() is returned; the remote side is not told.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	id := uuid.NewString()
	resultCh := make(chan callResult, 1)

	c.mut.Lock()
	if c.err != nil {
		err := c.err
		c.mut.Unlock()
		return nil, err
	}
	c.waiters[id] = resultCh
	c.mut.Unlock()

	c.log.Debugw("sending request", "ID", id, "Method", method)
	err := c.writer.write(request{ID: id, Method: method, Args: args})
	if err != nil {
		c.removeWaiter(id)
		return nil, fmt.Errorf("sending %s request: %w", method, err)
	}
	Sent(ctx)

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return resultOf(method, res.resp)
	case <-ctx.Done():
		c.removeWaiter(id)
		c.log.Debugw("abandoning call", "ID", id, "Method", method, "Error", ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) removeWaiter(id string) {
	c.mut.Lock()
	delete(c.waiters, id)
	c.mut.Unlock()
}

func (c *Client) readMessages() {
	defer c.wg.Done()
	for {
		var msg response
		err := wsjson.Read(c.ctx, c.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			c.log.Debug("got normal closure from server")
			c.fail(ErrClosed)
			return
		}
		if err != nil {
			c.log.Debugf("message reader got error: %s", err)
			c.fail(fmt.Errorf("%w: %s", ErrClosed, err))
			c.close(websocket.StatusInternalError, err.Error())
			return
		}

		c.mut.Lock()
		resultCh, ok := c.waiters[msg.ID]
		delete(c.waiters, msg.ID)
		c.mut.Unlock()
		if !ok {
			c.log.Debugw("dropping response for abandoned call", "ID", msg.ID)
			continue
		}
		resultCh <- callResult{resp: msg}
	}
}

// fail resolves every outstanding call with err and makes all later calls fail with it.
func (c *Client) fail(err error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.err == nil {
		c.err = err
	}
	for id, resultCh := range c.waiters {
		resultCh <- callResult{err: c.err}
		delete(c.waiters, id)
	}
}

func (c *Client) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	c.closeConnOnce.Do(func() {
		err := c.conn.Close(code, reason)
		if err != nil {
			c.log.Debugf("error closing conn: %s", err)
		}
	})
}

// Close closes the connection. Outstanding calls fail with ErrClosed.
func (c *Client) Close() error {
	c.close(websocket.StatusNormalClosure, "")
	c.cancel()
	c.wg.Wait()
	c.fail(ErrClosed)
	return nil
}

func resultOf(method string, resp response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &CallError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}
