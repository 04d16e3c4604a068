// Package worker exposes an Engine implementation to controllers through an rmi.Server,
// under the method names the engine package calls.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/guseggert/enginermi/engine"
	"github.com/guseggert/enginermi/rmi"
	"go.uber.org/zap"
)

// Engine is the worker-side engine. Genmove, Search, and Ponder must return once ctx is canceled;
// returning context.Canceled after a stop is reported to the controller as "no result".
// Invalid arguments should be reported by wrapping rmi.ErrInvalidArgument.
type Engine interface {
	LoadNN(ctx context.Context) error
	Clear(ctx context.Context) error
	TimeSettings(ctx context.Context, mainTime, byoyomi time.Duration) error
	Genmove(ctx context.Context) (any, error)
	Play(ctx context.Context, x, y int) error
	Pass(ctx context.Context) error
	Search(ctx context.Context) (any, error)
	FinalScore(ctx context.Context) (any, error)
	Ponder(ctx context.Context) (any, error)
	TimeLeft(ctx context.Context) (any, error)
}

// Register binds eng's operations, and a stop that cancels the running long operation, to srv.
func Register(srv *rmi.Server, eng Engine, log *zap.SugaredLogger) {
	b := &binding{log: log.Named("worker"), eng: eng}

	srv.Register(engine.MethodLoadNN, noArgs(eng.LoadNN))
	srv.Register(engine.MethodClear, noArgs(eng.Clear))
	srv.Register(engine.MethodPass, noArgs(eng.Pass))
	srv.Register(engine.MethodFinalScore, noArgsResult(eng.FinalScore))
	srv.Register(engine.MethodTimeLeft, noArgsResult(eng.TimeLeft))
	srv.Register(engine.MethodTimeSettings, b.timeSettings)
	srv.Register(engine.MethodPlay, b.play)
	srv.Register(engine.MethodGenmove, b.cancellable(engine.MethodGenmove, eng.Genmove))
	srv.Register(engine.MethodSearch, b.cancellable(engine.MethodSearch, eng.Search))
	srv.Register(engine.MethodPonder, b.cancellable(engine.MethodPonder, eng.Ponder))
	srv.Register(engine.MethodStop, b.stop)
}

type binding struct {
	log *zap.SugaredLogger
	eng Engine

	mut sync.Mutex
	// running is the long operation currently executing, if any
	running *run
	// stopSeq is the sequence number of the latest stop received
	stopSeq uint64
}

type run struct {
	op      string
	seq     uint64
	cancel  func()
	stopped bool
}

func noArgs(f func(context.Context) error) rmi.Handler {
	return func(ctx context.Context, args rmi.Args) (any, error) {
		if err := args.Bind(); err != nil {
			return nil, err
		}
		return nil, f(ctx)
	}
}

func noArgsResult(f func(context.Context) (any, error)) rmi.Handler {
	return func(ctx context.Context, args rmi.Args) (any, error) {
		if err := args.Bind(); err != nil {
			return nil, err
		}
		return f(ctx)
	}
}

func (b *binding) timeSettings(ctx context.Context, args rmi.Args) (any, error) {
	var mainSecs, byoyomiSecs float64
	if err := args.Bind(&mainSecs, &byoyomiSecs); err != nil {
		return nil, err
	}
	return nil, b.eng.TimeSettings(ctx, seconds(mainSecs), seconds(byoyomiSecs))
}

func (b *binding) play(ctx context.Context, args rmi.Args) (any, error) {
	var x, y int
	if err := args.Bind(&x, &y); err != nil {
		return nil, err
	}
	return nil, b.eng.Play(ctx, x, y)
}

func (b *binding) cancellable(op string, f func(context.Context) (any, error)) rmi.Handler {
	return func(ctx context.Context, args rmi.Args) (any, error) {
		if err := args.Bind(); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		r := &run{op: op, seq: rmi.Sequence(ctx), cancel: cancel}

		b.mut.Lock()
		if b.stopSeq > r.seq {
			// a stop sent after this call was served first
			b.mut.Unlock()
			b.log.Debugw("operation stopped before it started", "Op", op, "Seq", r.seq)
			return nil, nil
		}
		if prev := b.running; prev != nil {
			b.log.Debugw("pre-empting stale operation", "Op", prev.op, "Next", op)
			prev.stopped = true
			prev.cancel()
		}
		b.running = r
		b.mut.Unlock()

		result, err := f(ctx)

		b.mut.Lock()
		if b.running == r {
			b.running = nil
		}
		stopped := r.stopped
		b.mut.Unlock()

		if stopped && errors.Is(err, context.Canceled) {
			b.log.Debugw("operation stopped", "Op", op)
			return nil, nil
		}
		return result, err
	}
}

func (b *binding) stop(ctx context.Context, args rmi.Args) (any, error) {
	if err := args.Bind(); err != nil {
		return nil, err
	}
	seq := rmi.Sequence(ctx)

	b.mut.Lock()
	defer b.mut.Unlock()
	if seq > b.stopSeq {
		b.stopSeq = seq
	}
	if r := b.running; r != nil && r.seq < seq {
		b.log.Debugw("stopping", "Op", r.op)
		r.stopped = true
		r.cancel()
	}
	return nil, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
