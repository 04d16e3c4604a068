package rmi

import "context"

type sequenceKey struct{}

// Sequence returns the position of the current call in the order the server received calls.
// Sequence numbers increase monotonically per Server, across connections, starting at 1.
// It returns 0 if ctx does not belong to a call.
//
// Handlers run concurrently, so a handler for a later call can start before one for an earlier call.
// Handlers that must observe arrival order, such as a stop that targets an earlier call, compare sequence numbers.
func Sequence(ctx context.Context) uint64 {
	seq, _ := ctx.Value(sequenceKey{}).(uint64)
	return seq
}

func withSequence(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, sequenceKey{}, seq)
}

type sentKey struct{}

// WithSentFunc returns a copy of ctx that makes a Channel call f once a call made with it has been handed to the transport.
// Any call issued after f runs is served after that call.
func WithSentFunc(ctx context.Context, f func()) context.Context {
	return context.WithValue(ctx, sentKey{}, f)
}

// Sent calls the function registered on ctx with WithSentFunc, if any.
// Channel implementations call it once a request is committed to the order calls are served in.
func Sent(ctx context.Context) {
	if f, ok := ctx.Value(sentKey{}).(func()); ok {
		f()
	}
}
