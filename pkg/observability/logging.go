package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/canopy/pkg/domain"
)

// LogHooks returns lifecycle hooks that audit every step through logger.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, runID, nodeID string) {
			logger.InfoContext(ctx, "node_enter", "run", runID, "node_id", nodeID)
		},
		OnToolCall: func(ctx context.Context, e *domain.StepEvent) {
			logger.InfoContext(ctx, "tool_call", "run", e.RunID, "node_id", e.NodeID, "tool_name", e.ToolName, "forced", e.Forced)
		},
		OnToolReturn: func(ctx context.Context, e *domain.StepEvent) {
			level := slog.LevelInfo
			if e.IsError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "tool_return", "run", e.RunID, "tool_name", e.ToolName, "duration", e.Duration, "is_error", e.IsError)
		},
		OnRunEnd: func(ctx context.Context, s *domain.RunState) {
			logger.InfoContext(ctx, "run_end", "run", s.ID, "status", s.Status, "steps", s.Step, "err", s.LastError)
		},
	}
}
