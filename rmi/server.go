package rmi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler serves one method. The context is canceled when the connection the call arrived on goes away.
// A nil result is sent as a call with no return value.
type Handler func(ctx context.Context, args Args) (any, error)

// Server dispatches requests to registered handlers.
// Handlers must be registered before the server starts serving.
type Server struct {
	Log     *zap.SugaredLogger
	Metrics *Metrics

	handlers map[string]Handler
	seq      atomic.Uint64
}

// Register binds method to h, replacing any previous handler for method.
func (s *Server) Register(method string, h Handler) {
	if s.handlers == nil {
		s.handlers = map[string]Handler{}
	}
	s.handlers[method] = h
}

// Methods returns the number of registered methods.
func (s *Server) Methods() int {
	return len(s.handlers)
}

func (s *Server) logger() *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.logger().Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	s.logger().Debug("accepted WebSocket conn")

	err = s.ServeConn(r.Context(), wsConn)
	if err != nil {
		s.logger().Debugf("connection ended: %s", err)
	}
}

// ServeConn serves requests from conn until the client closes it, ctx is done, or a read fails.
// It returns once every handler started for this connection has returned.
func (s *Server) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	log := s.logger().Named("conn")
	conn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		// handlers for long-running calls only return once their context is canceled
		cancel()
		wg.Wait()
	}()

	writer := &connWriter{log: log.Named("writer"), ctx: ctx, conn: conn}

	for {
		var req inboundRequest
		err := wsjson.Read(ctx, conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			log.Debug("got normal closure from client, wrapping up")
			return nil
		}
		if err != nil {
			log.Debugf("message reader got error: %s", err)
			reason := err.Error()
			if len(reason) > 100 {
				reason = reason[0:100]
			}
			conn.Close(websocket.StatusInternalError, reason)
			return fmt.Errorf("reading request: %w", err)
		}
		seq := s.seq.Add(1)
		log.Debugw("got request", "ID", req.ID, "Method", req.Method, "Seq", seq)

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.dispatch(withSequence(ctx, seq), req)
			if err := writer.write(resp); err != nil {
				log.Debugf("error sending response for %s: %s", req.Method, err)
			}
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, req inboundRequest) response {
	start := time.Now()
	s.Metrics.begin(req.Method)

	resp := response{ID: req.ID}
	h, ok := s.handlers[req.Method]
	if !ok {
		resp.Error = &wireError{Code: CodeUnknownMethod, Message: fmt.Sprintf("no handler registered for %q", req.Method)}
	} else {
		result, err := s.call(ctx, h, req.Args)
		switch {
		case err != nil:
			resp.Error = &wireError{Code: codeFor(err), Message: err.Error()}
		case result != nil:
			b, err := json.Marshal(result)
			if err != nil {
				resp.Error = &wireError{Code: CodeInternal, Message: fmt.Sprintf("encoding result: %s", err)}
			} else if string(b) != "null" {
				resp.Result = b
			}
		}
	}

	code := "ok"
	if resp.Error != nil {
		code = resp.Error.Code
	}
	s.Metrics.end(req.Method, code, time.Since(start))
	return resp
}

// call runs h, turning a panic into an error so one bad call can't take down the connection.
func (s *Server) call(ctx context.Context, h Handler, args Args) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Errorw("handler panicked", "Panic", r)
			result, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, args)
}
