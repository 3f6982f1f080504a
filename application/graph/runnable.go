package graph

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrRecursionLimit is returned when an invocation runs more nodes than allowed.
var ErrRecursionLimit = errors.New("recursion limit exceeded")

type Option[S any] func(*Runnable[S])

// WithCheckpointer persists thread state between invocations.
func WithCheckpointer[S any](cp Checkpointer[S]) Option[S] {
	return func(r *Runnable[S]) { r.checkpointer = cp }
}

func WithRecursionLimit[S any](limit int) Option[S] {
	return func(r *Runnable[S]) {
		if limit > 0 {
			r.recursionLimit = limit
		}
	}
}

func WithLogger[S any](logger *zap.Logger) Option[S] {
	return func(r *Runnable[S]) { r.logger = logger }
}

// Runnable is a compiled graph. Invocations for the same thread are serialized,
// invocations for different threads run independently.
type Runnable[S any] struct {
	reducer        Reducer[S]
	nodes          map[string]NodeFunc[S]
	edges          map[string]string
	conditional    map[string]RouterFunc[S]
	recursionLimit int
	checkpointer   Checkpointer[S]
	logger         *zap.Logger
	locks          *keyedMutex
}

// Invoke merges input into the thread's last checkpoint and runs the graph to END.
func (r *Runnable[S]) Invoke(ctx context.Context, thread string, input S) (S, error) {
	return r.InvokeFunc(ctx, thread, func(S, bool) S { return input })
}

// InvokeFunc is Invoke with the input built from the loaded checkpoint while the thread is locked.
// found reports whether a checkpoint existed.
func (r *Runnable[S]) InvokeFunc(ctx context.Context, thread string, input func(prior S, found bool) S) (S, error) {
	var zero S

	if thread != "" {
		unlock := r.locks.Lock(thread)
		defer unlock()
	}

	prior, found, err := r.load(ctx, thread)
	if err != nil {
		return zero, err
	}

	state := r.reducer(prior, input(prior, found))

	state, err = r.run(ctx, thread, state)
	if err != nil {
		return zero, err
	}

	if thread != "" && r.checkpointer != nil {
		if err := r.checkpointer.Put(ctx, thread, state); err != nil {
			return zero, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	return state, nil
}

// State returns the last checkpoint of a thread.
func (r *Runnable[S]) State(ctx context.Context, thread string) (S, bool, error) {
	return r.load(ctx, thread)
}

func (r *Runnable[S]) load(ctx context.Context, thread string) (S, bool, error) {
	var zero S
	if thread == "" || r.checkpointer == nil {
		return zero, false, nil
	}
	state, found, err := r.checkpointer.Get(ctx, thread)
	if err != nil {
		return zero, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return state, found, nil
}

func (r *Runnable[S]) run(ctx context.Context, thread string, state S) (S, error) {
	var zero S
	logger := r.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	current := r.edges[START]
	for step := 0; current != END; step++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if step >= r.recursionLimit {
			return zero, fmt.Errorf("%w: %d steps without reaching the end (thread %q)", ErrRecursionLimit, r.recursionLimit, thread)
		}

		logger.Debug("graph step", zap.String("thread", thread), zap.String("node", current), zap.Int("step", step))

		update, err := r.nodes[current](ctx, state)
		if err != nil {
			return zero, fmt.Errorf("node %s: %w", current, err)
		}
		state = r.reducer(state, update)

		next, err := r.next(ctx, current, state)
		if err != nil {
			return zero, err
		}
		current = next
	}

	return state, nil
}

func (r *Runnable[S]) next(ctx context.Context, current string, state S) (string, error) {
	router, ok := r.conditional[current]
	if !ok {
		return r.edges[current], nil
	}

	next, err := router(ctx, state)
	if err != nil {
		return "", fmt.Errorf("route from %s: %w", current, err)
	}
	if next != END {
		if _, ok := r.nodes[next]; !ok {
			return "", fmt.Errorf("route from %s: unknown node %q", current, next)
		}
	}
	return next, nil
}
