package rmi

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// connWriter serializes outgoing messages, so the order messages hit the wire is the order write was called.
type connWriter struct {
	log  *zap.SugaredLogger
	ctx  context.Context
	conn *websocket.Conn

	mut sync.Mutex
}

func (w *connWriter) write(msg any) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	err := wsjson.Write(w.ctx, w.conn, msg)
	if err != nil {
		w.log.Debugw("error writing message", "Error", err)
	}
	return err
}
