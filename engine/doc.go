// Package engine provides Handle, a proxy for a game engine running in a worker on the other end of an rmi.Channel.
//
// Every method blocks until the worker answers. Genmove, Search, and Ponder are long-running and cancellable:
// at most one of them may be outstanding per Handle, and Stop (usually called from another goroutine) cancels it.
// A cancelled operation returns an Outcome with Cancelled set rather than an error, so a controller can
// Stop and immediately issue the next operation without special-casing the interrupted call site.
package engine
