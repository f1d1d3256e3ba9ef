// Package async provides the background execution context that keeps store
// and journal I/O off the synchronous command path.
package async

import (
	"log/slog"
	"sync"
)

// Dispatcher runs fire-and-forget tasks off the caller's goroutine. Callers
// never wait on a dispatched task; its outcome is observed only through
// cache updates and logs.
type Dispatcher interface {
	Dispatch(fn func())
}

// Pool is the production Dispatcher. Each task runs on its own goroutine,
// tracked so shutdown can wait for in-flight work. Tasks are not cancellable
// once dispatched.
type Pool struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewPool creates a new Pool
func NewPool(logger *slog.Logger) *Pool {
	return &Pool{logger: logger}
}

// Dispatch starts fn on a new goroutine. A panicking task is logged and
// never takes the process down.
func (p *Pool) Dispatch(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic in background task", "panic", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until all dispatched tasks have finished
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Sync runs every task inline on the caller's goroutine. Tests use it to
// drain background work deterministically.
type Sync struct{}

// Dispatch runs fn immediately
func (Sync) Dispatch(fn func()) {
	fn()
}
