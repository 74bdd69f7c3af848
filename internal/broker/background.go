package broker

import (
	"context"
	"log/slog"
	"sync"
)

// Background runs publish tasks off the caller's goroutine. Tasks get a
// context detached from the caller's cancellation so a finished request does
// not abort its publishes. Wait blocks until every started task returns.
type Background struct {
	wg sync.WaitGroup
}

// Go starts fn in a new goroutine.
func (b *Background) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn(ctx)
	}()
}

// Wait blocks until all started tasks have returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
