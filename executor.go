package kernel

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// executor runs activation tasks. Every task gets its own goroutine, so
// submitting never waits for a free worker. Construction work can be bounded
// by a weighted semaphore; tasks take a slot only after their dependencies
// are terminal, so a waiting task never starves the beans it waits for.
type executor struct {
	slots *semaphore.Weighted
}

// newExecutor creates an executor. workers <= 0 leaves construction
// unbounded.
func newExecutor(workers int) *executor {
	e := &executor{}
	if workers > 0 {
		e.slots = semaphore.NewWeighted(int64(workers))
	}
	return e
}

// submit starts task on its own goroutine and tracks it in wg. A panicking
// task is reported through recovered instead of crashing the process.
func (e *executor) submit(wg *sync.WaitGroup, task func(), recovered func(any)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				recovered(r)
			}
		}()
		task()
	}()
}

// acquire takes a construction slot and returns its release function.
func (e *executor) acquire(ctx context.Context) (func(), error) {
	if e.slots == nil {
		return func() {}, nil
	}
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a construction slot: %w", err)
	}
	return func() { e.slots.Release(1) }, nil
}
