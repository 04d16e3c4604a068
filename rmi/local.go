package rmi

import (
	"context"
	"encoding/json"
	"fmt"
)

// LocalChannel is a Channel that invokes a Server's handlers in the same process.
// Arguments and results still pass through JSON, so handlers see exactly what they would over a connection.
type LocalChannel struct {
	srv    *Server
	ctx    context.Context
	cancel func()
}

// Local returns a LocalChannel for srv.
func Local(srv *Server) *LocalChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalChannel{srv: srv, ctx: ctx, cancel: cancel}
}

func (l *LocalChannel) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if l.ctx.Err() != nil {
		return nil, ErrClosed
	}
	encoded := make(Args, len(args))
	for i, arg := range args {
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encoding argument %d of %s: %w", i, method, err)
		}
		encoded[i] = b
	}

	seq := l.srv.seq.Add(1)
	Sent(ctx)
	respCh := make(chan response, 1)
	go func() {
		respCh <- l.srv.dispatch(withSequence(l.ctx, seq), inboundRequest{Method: method, Args: encoded})
	}()

	select {
	case resp := <-respCh:
		return resultOf(method, resp)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the contexts of running handlers. Later calls fail with ErrClosed.
func (l *LocalChannel) Close() error {
	l.cancel()
	return nil
}
