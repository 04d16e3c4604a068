package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guseggert/enginermi/rmi"
	"go.uber.org/zap"
)

// Handle is the controller's proxy for one worker. It has exclusive use of its channel.
type Handle struct {
	log      *zap.SugaredLogger
	ch       rmi.Channel
	autoStop bool

	times atomic.Pointer[timeSettings]

	mut     sync.Mutex
	pending *invocation
}

type timeSettings struct {
	main    time.Duration
	byoyomi time.Duration
}

// invocation tracks the outstanding cancellable call.
type invocation struct {
	op string
	// sent is closed once the call's place in the channel order is fixed
	sent     chan struct{}
	sentOnce sync.Once
	// done is closed once the call's result is final
	done chan struct{}

	// guarded by Handle.mut
	stopping int  // Stops sent or about to be sent, not yet answered
	stopped  bool // a Stop was acknowledged by the worker
}

func (inv *invocation) markSent() {
	inv.sentOnce.Do(func() { close(inv.sent) })
}

func (inv *invocation) cancelled() bool {
	return inv.stopped || inv.stopping > 0
}

type Option func(h *Handle)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handle) {
		h.log = l.Named("engine").Sugar()
	}
}

// WithAutoStop makes a cancellable operation stop the outstanding one first, instead of failing with ErrBusy.
func WithAutoStop() Option {
	return func(h *Handle) {
		h.autoStop = true
	}
}

// New returns a Handle that sends calls over ch.
func New(ch rmi.Channel, opts ...Option) *Handle {
	h := &Handle{
		log: zap.NewNop().Sugar(),
		ch:  ch,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close detaches from the worker, closing the channel if it can be closed.
func (h *Handle) Close() error {
	if closer, ok := h.ch.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// TimeMain returns the main time from the last TimeSettings call. ok is false if it was never called.
func (h *Handle) TimeMain() (d time.Duration, ok bool) {
	ts := h.times.Load()
	if ts == nil {
		return 0, false
	}
	return ts.main, true
}

// TimeByoyomi returns the byoyomi from the last TimeSettings call. ok is false if it was never called.
func (h *Handle) TimeByoyomi() (d time.Duration, ok bool) {
	ts := h.times.Load()
	if ts == nil {
		return 0, false
	}
	return ts.byoyomi, true
}

// Busy returns the name of the outstanding cancellable operation, if any.
func (h *Handle) Busy() (op string, busy bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.pending == nil {
		return "", false
	}
	return h.pending.op, true
}

func (h *Handle) LoadNN(ctx context.Context) error {
	_, err := h.invoke(ctx, MethodLoadNN)
	return err
}

// Clear stops any outstanding operation, waits for it to finish, and then resets the worker's game state.
func (h *Handle) Clear(ctx context.Context) error {
	if err := h.Stop(ctx); err != nil {
		return fmt.Errorf("stopping before clear: %w", err)
	}
	_, err := h.invoke(ctx, MethodClear)
	return err
}

// TimeSettings records the time settings locally and then sends them to the worker.
// The local values are visible to TimeMain and TimeByoyomi before the worker confirms.
func (h *Handle) TimeSettings(ctx context.Context, mainTime, byoyomi time.Duration) error {
	if mainTime < 0 || byoyomi < 0 {
		return fmt.Errorf("%w: time settings must be non-negative, got main time %s and byoyomi %s", ErrInvalidArgument, mainTime, byoyomi)
	}
	h.times.Store(&timeSettings{main: mainTime, byoyomi: byoyomi})
	_, err := h.invoke(ctx, MethodTimeSettings, mainTime.Seconds(), byoyomi.Seconds())
	return err
}

// Genmove asks the worker for a move. The move descriptor is opaque to the handle.
func (h *Handle) Genmove(ctx context.Context) (Outcome, error) {
	return h.invokeCancellable(ctx, MethodGenmove)
}

// Play plays a stone at (x, y). The valid range is decided by the worker, which reports
// out-of-range coordinates as ErrInvalidArgument.
func (h *Handle) Play(ctx context.Context, x, y int) error {
	_, err := h.invoke(ctx, MethodPlay, x, y)
	return err
}

func (h *Handle) Pass(ctx context.Context) error {
	_, err := h.invoke(ctx, MethodPass)
	return err
}

func (h *Handle) Search(ctx context.Context) (Outcome, error) {
	return h.invokeCancellable(ctx, MethodSearch)
}

func (h *Handle) FinalScore(ctx context.Context) (json.RawMessage, error) {
	return h.invoke(ctx, MethodFinalScore)
}

// Ponder runs until the worker finishes pondering or Stop is called.
func (h *Handle) Ponder(ctx context.Context) (Outcome, error) {
	return h.invokeCancellable(ctx, MethodPonder)
}

func (h *Handle) TimeLeft(ctx context.Context) (json.RawMessage, error) {
	return h.invoke(ctx, MethodTimeLeft)
}

// Stop cancels the outstanding cancellable operation, if there is one.
// It always forwards stop to the worker, and with nothing outstanding it succeeds without changing state.
// When Stop returns nil, the cancelled operation has returned an Outcome with Cancelled set,
// unless its real result arrived before Stop was called.
// If the worker does not acknowledge the stop, the operation keeps its real result, unless it already
// finished while the stop was in flight, in which case it was reported as cancelled.
func (h *Handle) Stop(ctx context.Context) error {
	h.mut.Lock()
	inv := h.pending
	if inv != nil {
		inv.stopping++
	}
	h.mut.Unlock()

	if inv != nil {
		h.log.Debugw("stopping", "Op", inv.op)
		// a stop that overtakes the call it targets finds nothing to cancel
		select {
		case <-inv.sent:
		case <-inv.done:
		case <-ctx.Done():
			h.settleStop(inv, false)
			return fmt.Errorf("waiting for %s to be sent: %w", inv.op, ctx.Err())
		}
	}

	_, err := h.invoke(ctx, MethodStop)
	if inv == nil {
		return err
	}
	h.settleStop(inv, err == nil)
	if err != nil {
		return err
	}

	select {
	case <-inv.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to finish: %w", inv.op, ctx.Err())
	}
}

// settleStop records the answer to one Stop of inv.
func (h *Handle) settleStop(inv *invocation, acked bool) {
	h.mut.Lock()
	defer h.mut.Unlock()
	inv.stopping--
	if acked {
		inv.stopped = true
	}
}

func (h *Handle) invoke(ctx context.Context, op string, args ...any) (json.RawMessage, error) {
	h.log.Debugw("invoking", "Op", op, "Args", args)
	res, err := h.ch.Invoke(ctx, op, args...)
	if err != nil {
		h.log.Debugw("invocation failed", "Op", op, "Error", err)
		return nil, wrapErr(ctx, op, err)
	}
	return res, nil
}

func (h *Handle) invokeCancellable(ctx context.Context, op string) (Outcome, error) {
	inv, err := h.begin(ctx, op)
	if err != nil {
		return Outcome{}, err
	}

	h.log.Debugw("invoking", "Op", op)
	res, err := h.ch.Invoke(rmi.WithSentFunc(ctx, inv.markSent), op)

	if h.finish(inv) {
		h.log.Debugw("operation cancelled", "Op", op, "DiscardedError", err)
		return Outcome{Cancelled: true}, nil
	}
	if err != nil {
		h.log.Debugw("invocation failed", "Op", op, "Error", err)
		return Outcome{}, wrapErr(ctx, op, err)
	}
	return Outcome{Value: res}, nil
}

// begin marks op as the outstanding cancellable invocation.
func (h *Handle) begin(ctx context.Context, op string) (*invocation, error) {
	for {
		h.mut.Lock()
		prev := h.pending
		if prev == nil {
			inv := &invocation{op: op, sent: make(chan struct{}), done: make(chan struct{})}
			h.pending = inv
			h.mut.Unlock()
			return inv, nil
		}
		h.mut.Unlock()

		if !h.autoStop {
			return nil, fmt.Errorf("%w: cannot start %s while %s is outstanding", ErrBusy, op, prev.op)
		}
		h.log.Debugw("auto-stopping outstanding operation", "Op", prev.op, "Next", op)
		if err := h.Stop(ctx); err != nil {
			return nil, fmt.Errorf("stopping %s before %s: %w", prev.op, op, err)
		}
	}
}

// finish finalizes inv and reports whether it was cancelled.
func (h *Handle) finish(inv *invocation) bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.pending == inv {
		h.pending = nil
	}
	close(inv.done)
	return inv.cancelled()
}

func wrapErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrInvalidArgument) {
		return fmt.Errorf("invoking %s: %w", op, err)
	}
	// the caller's own deadline or cancellation is not a remote failure
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("invoking %s: %w", op, err)
	}
	return &RemoteFailure{Op: op, Err: err}
}
