package runtime

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/registry"
)

// DefaultMaxSteps bounds the number of selection cycles of a run.
const DefaultMaxSteps = 50

// Engine walks the branch graph, selecting and executing tools until a
// terminal tool completes or no forward progress is possible.
// One Engine serves many concurrent runs; all per-run data lives in RunState.
type Engine struct {
	graph     *graph.Graph
	registry  *registry.Registry
	predictor ports.Predictor
	handles   ports.Handles
	hooks     domain.LifecycleHooks
	logger    *slog.Logger

	maxSteps         int
	stepTimeout      time.Duration
	predictorTimeout time.Duration
	returnToRoot     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPredictor sets the chooser consulted when no rule forces a tool.
func WithPredictor(p ports.Predictor) Option {
	return func(e *Engine) { e.predictor = p }
}

// WithHandles sets the model and service handles passed to capabilities.
func WithHandles(h ports.Handles) Option {
	return func(e *Engine) { e.handles = h }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps bounds the selection cycles of a run. Values below 1 restore the default.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = DefaultMaxSteps
		}
		e.maxSteps = n
	}
}

// WithStepTimeout bounds each tool execution. Zero disables the deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stepTimeout = d }
}

// WithPredictorTimeout bounds each predictor call. Zero disables the deadline.
func WithPredictorTimeout(d time.Duration) Option {
	return func(e *Engine) { e.predictorTimeout = d }
}

// WithReturnToRoot moves the run back to the root after a non-terminal tool
// that names no target and declares no downstream node.
func WithReturnToRoot(enabled bool) Option {
	return func(e *Engine) { e.returnToRoot = enabled }
}

// NewEngine creates an engine over a graph and the registry its tools come from.
func NewEngine(g *graph.Graph, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		graph:    g,
		registry: reg,
		logger:   logging.NewNop(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxSteps returns the configured selection-cycle limit.
func (e *Engine) MaxSteps() int { return e.maxSteps }

// Run drives state until it terminates, fails or is cancelled, yielding every
// observable event. Breaking out of the range cancels the run.
// When the sequence is exhausted, state holds the final status, history and
// environment; fatal failures are reported through state.Err, not as events.
func (e *Engine) Run(ctx context.Context, state *domain.RunState) iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		r := &run{engine: e, state: state, yield: yield}
		r.execute(ctx)
	}
}

// run is the single-writer context of one invocation.
type run struct {
	engine  *Engine
	state   *domain.RunState
	yield   func(domain.Event) bool
	stopped bool

	// excluded holds tools whose inputs failed validation during the current step.
	excluded map[string]bool
}

// errStopped marks a consumer that stopped ranging over the events.
var errStopped = errors.New("event consumer stopped")

func (r *run) execute(ctx context.Context) {
	e, s := r.engine, r.state
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.Environment == nil {
		s.Environment = domain.NewEnvironment()
	}
	if s.History == nil {
		s.History = []domain.DecisionEntry{}
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if s.CurrentNodeID == "" {
		s.CurrentNodeID = e.graph.Root()
	}
	if s.CurrentNodeID == "" {
		r.fail(ctx, &domain.NoToolAvailableError{})
		return
	}

	e.logger.Info("run started", "run", s.ID, "node", s.CurrentNodeID)
	r.enterNode(ctx, s.CurrentNodeID)

	for !s.Done() {
		if r.stopped {
			r.cancel(ctx, context.Canceled)
			return
		}
		if err := ctx.Err(); err != nil {
			r.cancel(ctx, err)
			return
		}
		if s.Iterations >= e.maxSteps {
			r.fail(ctx, &domain.MaxStepsExceededError{Limit: e.maxSteps})
			return
		}
		s.Iterations++
		s.Status = domain.StatusSelecting

		if err := r.iterate(ctx); err != nil {
			if r.stopped || ctx.Err() != nil {
				r.cancel(ctx, cmpErr(ctx.Err(), context.Canceled))
				return
			}
			r.fail(ctx, err)
			return
		}
	}
}

// iterate runs one SELECTING phase and, if a tool is selected, its EXECUTING phase.
// A returned error is fatal for the run.
func (r *run) iterate(ctx context.Context) error {
	e, s := r.engine, r.state

	node, ok := e.graph.Node(s.CurrentNodeID)
	if !ok {
		return &domain.NoToolAvailableError{NodeID: s.CurrentNodeID}
	}

	cands, err := r.candidates(ctx, node)
	if err != nil {
		return err
	}

	sel, err := r.evaluateRules(ctx, node, cands)
	if err != nil {
		return err
	}

	if sel == nil {
		eligible := availableOnly(cands)
		// Children may still be reachable by descent; choose decides.
		if len(eligible) == 0 && len(node.Children) == 0 {
			return &domain.NoToolAvailableError{NodeID: node.ID}
		}

		choice, err := r.choose(ctx, node, eligible)
		if err != nil {
			if errors.Is(err, errPredictorTimeout) {
				r.emit(r.failure(node.ID, "", err.Error()))
				return nil
			}
			return err
		}
		if choice == nil {
			// The run descended into a child branch.
			return nil
		}
		sel = choice
	}

	return r.perform(ctx, node, sel)
}

// selection is a tool chosen for execution in the current step.
type selection struct {
	cand   *candidate
	inputs map[string]any
	target string
	forced bool
}

// perform validates inputs, executes the selection and advances the run.
func (r *run) perform(ctx context.Context, node domain.BranchNode, sel *selection) error {
	e, s := r.engine, r.state
	desc := sel.cand.desc

	inputs, err := bindInputs(desc, sel.inputs)
	if err != nil {
		r.exclude(desc.Name)
		r.emit(r.failure(node.ID, desc.Name, err.Error()))
		e.logger.Warn("tool inputs rejected", "run", s.ID, "node", node.ID, "tool", desc.Name, "err", err)
		return nil
	}

	s.Status = domain.StatusExecuting
	ok, err := r.invoke(ctx, node.ID, sel.cand, inputs, sel.forced)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.RecordDecision(domain.DecisionEntry{
		NodeID:   node.ID,
		ToolName: desc.Name,
		Inputs:   inputs,
		Forced:   sel.forced,
	})
	s.Step++
	r.excluded = nil

	if desc.Terminal {
		s.Status = domain.StatusTerminated
		s.Halted = true
		r.finish(ctx)
		return nil
	}

	next := r.nextNode(node, sel)
	if next != s.CurrentNodeID {
		s.CurrentNodeID = next
		r.enterNode(ctx, next)
	}
	return nil
}

// nextNode resolves where the run continues after a non-terminal tool.
func (r *run) nextNode(node domain.BranchNode, sel *selection) string {
	switch {
	case sel.target != "":
		return sel.target
	case sel.cand.att.Downstream != "" && slices.Contains(node.Children, sel.cand.att.Downstream):
		return sel.cand.att.Downstream
	case r.engine.returnToRoot:
		return r.engine.graph.Root()
	default:
		return node.ID
	}
}

// invoke executes a tool and forwards its events. It reports whether the tool
// completed without failure. A returned error means the run must stop.
func (r *run) invoke(ctx context.Context, nodeID string, c *candidate, inputs map[string]any, forced bool) (bool, error) {
	e, s := r.engine, r.state
	desc := c.desc

	step := &domain.StepEvent{
		Timestamp: time.Now(),
		RunID:     s.ID,
		NodeID:    nodeID,
		ToolName:  desc.Name,
		Inputs:    inputs,
		Forced:    forced,
	}
	if e.hooks.OnToolCall != nil {
		e.hooks.OnToolCall(ctx, step)
	}
	e.logger.Debug("tool started", "run", s.ID, "node", nodeID, "tool", desc.Name, "forced", forced)

	if desc.StatusTemplate != "" {
		if !r.emit(r.annotate(domain.Status(desc.StatusTemplate), nodeID, desc.Name)) {
			return false, errStopped
		}
	}

	failed := false
	view := newView(s)
	start := func(stepCtx context.Context) ports.Stream {
		return c.cap.Execute(stepCtx, view, inputs, e.handles)
	}
	stepErr := r.pump(ctx, start, func(ev domain.Event) bool {
		ev = r.annotate(ev, nodeID, desc.Name)
		if ev.Kind == domain.EventResult {
			if ev.Result == nil {
				e.logger.Warn("result event without payload", "tool", desc.Name)
				return true
			}
			if ev.Result.Name == "" {
				ev.Result.Name = desc.Name
			}
			s.Environment.Append(desc.Name, *ev.Result)
		}
		return r.emit(ev)
	})

	switch {
	case r.stopped:
		return false, errStopped
	case ctx.Err() != nil:
		return false, ctx.Err()
	case stepErr != nil:
		failed = true
		r.emit(r.failure(nodeID, desc.Name, stepErr.Error()))
		e.logger.Warn("tool failed", "run", s.ID, "node", nodeID, "tool", desc.Name, "err", stepErr)
	}

	step.Duration = time.Since(step.Timestamp)
	step.IsError = failed
	if e.hooks.OnToolReturn != nil {
		e.hooks.OnToolReturn(ctx, step)
	}
	if r.stopped {
		return false, errStopped
	}
	return !failed, nil
}

func (r *run) enterNode(ctx context.Context, nodeID string) {
	r.excluded = nil
	if r.engine.hooks.OnNodeEnter != nil {
		r.engine.hooks.OnNodeEnter(ctx, r.state.ID, nodeID)
	}
}

func (r *run) exclude(tool string) {
	if r.excluded == nil {
		r.excluded = make(map[string]bool)
	}
	r.excluded[tool] = true
}

// emit forwards an event to the consumer; it reports false once the consumer stopped.
func (r *run) emit(ev domain.Event) bool {
	if r.stopped {
		return false
	}
	if !r.yield(ev) {
		r.stopped = true
		return false
	}
	return true
}

func (r *run) annotate(ev domain.Event, nodeID, tool string) domain.Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.NodeID == "" {
		ev.NodeID = nodeID
	}
	if ev.Tool == "" {
		ev.Tool = tool
	}
	return ev
}

func (r *run) failure(nodeID, tool, msg string) domain.Event {
	return r.annotate(domain.Failure(msg), nodeID, tool)
}

func (r *run) fail(ctx context.Context, err error) {
	s := r.state
	s.Status = domain.StatusFailed
	s.Halted = true
	s.Err = err
	s.LastError = err.Error()
	r.engine.logger.Error("run failed", "run", s.ID, "node", s.CurrentNodeID, "err", err)
	r.finish(ctx)
}

func (r *run) cancel(ctx context.Context, err error) {
	s := r.state
	s.Status = domain.StatusCancelled
	s.Halted = true
	s.Err = err
	s.LastError = err.Error()
	r.engine.logger.Info("run cancelled", "run", s.ID, "node", s.CurrentNodeID)
	r.finish(context.WithoutCancel(ctx))
}

func (r *run) finish(ctx context.Context) {
	s := r.state
	s.FinishedAt = time.Now()
	if s.Status == domain.StatusTerminated {
		r.engine.logger.Info("run terminated", "run", s.ID, "steps", s.Step)
	}
	if r.engine.hooks.OnRunEnd != nil {
		r.engine.hooks.OnRunEnd(ctx, s)
	}
}

func cmpErr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
