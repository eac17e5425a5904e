package observability

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// Combine merges several hook sets into one. Callbacks run in argument order;
// nil callbacks are skipped.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks

	var enter []func(context.Context, string, string)
	var call, ret []func(context.Context, *domain.StepEvent)
	var end []func(context.Context, *domain.RunState)
	for _, h := range hooks {
		if h.OnNodeEnter != nil {
			enter = append(enter, h.OnNodeEnter)
		}
		if h.OnToolCall != nil {
			call = append(call, h.OnToolCall)
		}
		if h.OnToolReturn != nil {
			ret = append(ret, h.OnToolReturn)
		}
		if h.OnRunEnd != nil {
			end = append(end, h.OnRunEnd)
		}
	}

	if len(enter) > 0 {
		out.OnNodeEnter = func(ctx context.Context, runID, nodeID string) {
			for _, f := range enter {
				f(ctx, runID, nodeID)
			}
		}
	}
	if len(call) > 0 {
		out.OnToolCall = func(ctx context.Context, e *domain.StepEvent) {
			for _, f := range call {
				f(ctx, e)
			}
		}
	}
	if len(ret) > 0 {
		out.OnToolReturn = func(ctx context.Context, e *domain.StepEvent) {
			for _, f := range ret {
				f(ctx, e)
			}
		}
	}
	if len(end) > 0 {
		out.OnRunEnd = func(ctx context.Context, s *domain.RunState) {
			for _, f := range end {
				f(ctx, s)
			}
		}
	}
	return out
}
