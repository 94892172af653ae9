package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Future is the single-use result of one request. It is created when the
// request is enqueued and resolved exactly once by the worker; later resolves
// are ignored, so a result can never be overwritten.
type Future[T any] struct {
	ready chan struct{}
	once  sync.Once
	value T
	err   error
	// abandoned is set once a waiter gave up on the result.
	abandoned atomic.Bool
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{ready: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.ready)
	})
}

func (f *Future[T]) fail(err error) {
	var zero T
	f.resolve(zero, err)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.ready
}

// Await blocks until the result is available, ctx is done or timeout
// elapses. A non positive timeout waits on ctx only. When the wait ends
// without a result the future is abandoned: the worker still resolves it but
// skips the side effects of the reply.
func (f *Future[T]) Await(ctx context.Context, timeout time.Duration) (T, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	var zero T
	select {
	case <-f.ready:
		return f.value, f.err
	case <-ctx.Done():
		f.abandoned.Store(true)
		return zero, ctx.Err()
	case <-expired:
		f.abandoned.Store(true)
		return zero, ErrResultTimeout
	}
}

// Abandoned reports whether a waiter gave up before the result was ready.
func (f *Future[T]) Abandoned() bool {
	return f.abandoned.Load()
}
