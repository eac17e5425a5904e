package canopy

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/runtime"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/graph"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/predictor"
	"github.com/aretw0/canopy/pkg/registry"
	"github.com/google/uuid"
)

// DefaultMaxSteps is the selection-cycle limit applied when none is configured.
const DefaultMaxSteps = runtime.DefaultMaxSteps

// Router is the high-level entry point of the library.
// It owns a tool registry and a branch graph, exposes the administrative
// operations over them and runs requests through the decision engine.
type Router struct {
	registry *registry.Registry
	graph    *graph.Graph
	engine   *runtime.Engine
	logger   *slog.Logger

	predictor        ports.Predictor
	handles          ports.Handles
	hooks            domain.LifecycleHooks
	maxSteps         int
	stepTimeout      time.Duration
	predictorTimeout time.Duration
	returnToRoot     bool

	// Name identifies the router in logs and API responses.
	Name string
}

// Option defines a functional option for configuring the Router.
type Option func(*Router)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPredictor sets the chooser consulted when no rule forces a tool.
// The default is predictor.First.
func WithPredictor(p ports.Predictor) Option {
	return func(r *Router) { r.predictor = p }
}

// WithHandles sets the model and service handles passed to every tool.
func WithHandles(h ports.Handles) Option {
	return func(r *Router) { r.handles = h }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Router) { r.hooks = hooks }
}

// WithMaxSteps bounds the selection cycles of each run.
func WithMaxSteps(n int) Option {
	return func(r *Router) { r.maxSteps = n }
}

// WithStepTimeout bounds each tool execution.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Router) { r.stepTimeout = d }
}

// WithPredictorTimeout bounds each predictor call.
func WithPredictorTimeout(d time.Duration) Option {
	return func(r *Router) { r.predictorTimeout = d }
}

// WithReturnToRoot sends runs back to the root after a non-terminal tool that
// names no target and declares no downstream node.
func WithReturnToRoot(enabled bool) Option {
	return func(r *Router) { r.returnToRoot = enabled }
}

// WithName sets the router name.
func WithName(name string) Option {
	return func(r *Router) { r.Name = name }
}

// New creates a router with an empty registry and graph.
func New(opts ...Option) *Router {
	r := &Router{
		logger:    logging.NewNop(),
		predictor: predictor.First{},
		maxSteps:  DefaultMaxSteps,
		Name:      "canopy",
	}
	for _, opt := range opts {
		opt(r)
	}

	r.registry = registry.New(registry.WithLogger(r.logger))
	r.graph = graph.New(r.registry, graph.WithLogger(r.logger))
	r.engine = runtime.NewEngine(r.graph, r.registry,
		runtime.WithPredictor(r.predictor),
		runtime.WithHandles(r.handles),
		runtime.WithLifecycleHooks(r.hooks),
		runtime.WithLogger(r.logger),
		runtime.WithMaxSteps(r.maxSteps),
		runtime.WithStepTimeout(r.stepTimeout),
		runtime.WithPredictorTimeout(r.predictorTimeout),
		runtime.WithReturnToRoot(r.returnToRoot),
	)
	return r
}

// Registry exposes the tool registry for read access by adapters.
func (r *Router) Registry() *registry.Registry { return r.registry }

// Graph exposes the branch graph for read access by adapters.
func (r *Router) Graph() *graph.Graph { return r.graph }

// MaxSteps returns the effective selection-cycle limit.
func (r *Router) MaxSteps() int { return r.engine.MaxSteps() }

// Snapshot returns the current tree structure.
func (r *Router) Snapshot() domain.Tree { return r.graph.Snapshot() }

// Tools returns the descriptors of all admitted tools, sorted by name.
func (r *Router) Tools() []domain.CapabilityDescriptor { return r.registry.Descriptors() }

// AddNode adds a branch node and returns the resulting tree.
func (r *Router) AddNode(spec graph.NodeSpec) (domain.Tree, error) {
	if err := r.graph.AddNode(spec); err != nil {
		return domain.Tree{}, err
	}
	return r.graph.Snapshot(), nil
}

// RemoveNode removes a branch node and its descendants. Absent ids are ignored.
func (r *Router) RemoveNode(id string) (domain.Tree, error) {
	if err := r.graph.RemoveNode(id); err != nil {
		return domain.Tree{}, err
	}
	return r.graph.Snapshot(), nil
}

// MoveNode re-parents a branch node.
func (r *Router) MoveNode(id, newParentID string) (domain.Tree, error) {
	if err := r.graph.MoveNode(id, newParentID); err != nil {
		return domain.Tree{}, err
	}
	return r.graph.Snapshot(), nil
}

// AdmitTool admits a tool into the registry and attaches it to nodeID.
// With an empty nodeID the tool is only admitted. The node and attachment
// options are checked first, so a structural failure leaves the registry as it was.
func (r *Router) AdmitTool(spec ports.Spec, cfg ports.Config, nodeID string, opts ...graph.AttachOption) (domain.Tree, error) {
	if nodeID != "" {
		if err := r.checkAttachment(nodeID, opts); err != nil {
			return domain.Tree{}, err
		}
	}

	desc, err := r.registry.Admit(spec, cfg)
	if err != nil {
		return domain.Tree{}, err
	}

	if nodeID != "" {
		if err := r.graph.AttachTool(nodeID, desc.Name, opts...); err != nil {
			return domain.Tree{}, err
		}
	}
	return r.graph.Snapshot(), nil
}

// AttachTool attaches an already admitted tool to another node.
func (r *Router) AttachTool(nodeID, tool string, opts ...graph.AttachOption) (domain.Tree, error) {
	if err := r.graph.AttachTool(nodeID, tool, opts...); err != nil {
		return domain.Tree{}, err
	}
	return r.graph.Snapshot(), nil
}

// RevokeTool detaches a tool from nodeID, or from every node when nodeID is
// empty, and optionally removes it from the registry. It is idempotent.
func (r *Router) RevokeTool(nodeID, tool string, unregister bool) domain.Tree {
	if nodeID == "" {
		r.graph.DetachEverywhere(tool)
	} else {
		r.graph.DetachTool(nodeID, tool)
	}
	if unregister {
		r.graph.DetachEverywhere(tool)
		r.registry.Revoke(tool)
	}
	return r.graph.Snapshot()
}

func (r *Router) checkAttachment(nodeID string, opts []graph.AttachOption) error {
	node, ok := r.graph.Node(nodeID)
	if !ok {
		return &domain.StructureError{Op: "attach tool", NodeID: nodeID, Reason: "node does not exist"}
	}
	var att domain.ToolAttachment
	for _, opt := range opts {
		opt(&att)
	}
	if att.Downstream != "" && !slices.Contains(node.Children, att.Downstream) {
		return &domain.StructureError{Op: "attach tool", NodeID: nodeID, Reason: fmt.Sprintf("downstream %q is not a child", att.Downstream)}
	}
	return nil
}

// NewRun creates a run state for a request, positioned at the root.
func (r *Router) NewRun(request string) *domain.RunState {
	return domain.NewRunState(uuid.NewString(), r.graph.Root(), request)
}

// Stream runs state through the decision engine and yields its events.
// Breaking out of the range cancels the run. When the sequence ends, state
// carries the final status, history and environment.
func (r *Router) Stream(ctx context.Context, state *domain.RunState) iter.Seq[domain.Event] {
	return r.engine.Run(ctx, state)
}

// Run drives state to completion, discarding events.
// It returns nil when a terminal tool completed, the fatal error for failed
// runs and the context error for cancelled ones.
func (r *Router) Run(ctx context.Context, state *domain.RunState) error {
	for range r.engine.Run(ctx, state) {
	}
	return state.Err
}
