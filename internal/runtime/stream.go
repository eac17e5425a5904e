package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

var errStepTimeout = errors.New("tool execution timed out")

type item struct {
	ev  domain.Event
	err error
}

// pump starts a capability stream and drains it on its own goroutine so that
// deadlines and cancellation are honoured even when the producer blocks.
// Each event is handed to forward in order; forward returning false stops the
// producer. The first error yielded by the producer, a panic, or a step
// timeout is returned as the step failure.
func (r *run) pump(ctx context.Context, start func(context.Context) ports.Stream, forward func(domain.Event) bool) error {
	var (
		stepCtx context.Context
		cancel  context.CancelFunc
	)
	if d := r.engine.stepTimeout; d > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, d)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	items := make(chan item)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(items)
		defer func() {
			if p := recover(); p != nil {
				select {
				case items <- item{err: fmt.Errorf("tool panicked: %v", p)}:
				case <-done:
				}
			}
		}()
		stream := start(stepCtx)
		if stream == nil {
			return
		}
		for ev, err := range stream {
			select {
			case items <- item{ev: ev, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	expired := func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errStepTimeout
	}

	for {
		select {
		case it, ok := <-items:
			if !ok {
				return nil
			}
			// A deadline or cancellation wins over an item that raced with it.
			if stepCtx.Err() != nil {
				return expired()
			}
			if it.err != nil {
				return it.err
			}
			if !forward(it.ev) {
				return nil
			}
		case <-stepCtx.Done():
			return expired()
		}
	}
}

// recoverInto converts a panic in the deferring function into an error.
func recoverInto(err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("panic: %v", p)
	}
}
