// Package registry holds the set of admitted capabilities.
//
// Admission is the single point where a capability is checked against the
// calling contract. Once admitted, a capability's descriptor is frozen: the
// registry keeps its own copy and hands out copies.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/schema"
)

type entry struct {
	desc domain.CapabilityDescriptor
	cap  ports.Capability
}

// Registry manages the admitted tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for admission events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]entry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit instantiates the capability described by spec with cfg, checks it
// against the contract and stores it under its name.
// Re-admitting a name replaces the previous capability.
func (r *Registry) Admit(spec ports.Spec, cfg ports.Config) (domain.CapabilityDescriptor, error) {
	c, err := instantiate(spec, cfg)
	if err != nil {
		r.logger.Warn("tool rejected", "tool", spec.Descriptor.Name, "err", err)
		return domain.CapabilityDescriptor{}, err
	}

	desc := spec.Descriptor.Clone()

	r.mu.Lock()
	_, replaced := r.tools[desc.Name]
	r.tools[desc.Name] = entry{desc: desc, cap: c}
	r.mu.Unlock()

	r.logger.Info("tool admitted", "tool", desc.Name, "rule", desc.Rule, "end", desc.Terminal, "replaced", replaced)
	return desc.Clone(), nil
}

// Revoke removes a tool. Revoking an unknown name is a no-op.
func (r *Registry) Revoke(name string) {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if ok {
		r.logger.Info("tool revoked", "tool", name)
	}
}

// Lookup returns a copy of an admitted tool's descriptor.
func (r *Registry) Lookup(name string) (domain.CapabilityDescriptor, bool) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.CapabilityDescriptor{}, false
	}
	return e.desc.Clone(), true
}

// Capability returns an admitted tool instance together with its descriptor.
func (r *Registry) Capability(name string) (ports.Capability, domain.CapabilityDescriptor, bool) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.CapabilityDescriptor{}, false
	}
	return e.cap, e.desc.Clone(), true
}

// Descriptors returns all admitted descriptors sorted by name.
func (r *Registry) Descriptors() []domain.CapabilityDescriptor {
	r.mu.RLock()
	out := make([]domain.CapabilityDescriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.desc.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of admitted tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ ports.ToolLookup = (*Registry)(nil)

func instantiate(spec ports.Spec, cfg ports.Config) (c ports.Capability, err error) {
	name := spec.Descriptor.Name
	if name == "" {
		return nil, &domain.ContractViolationError{Tool: name, Reason: "descriptor has no name"}
	}
	if spec.New == nil {
		return nil, &domain.ContractViolationError{Tool: name, Reason: "no factory"}
	}
	if _, err := schema.FromInputs(spec.Descriptor.Inputs); err != nil {
		return nil, &domain.ContractViolationError{Tool: name, Reason: fmt.Sprintf("invalid input spec: %v", err)}
	}

	c, err = build(spec.New, name, cfg)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &domain.ContractViolationError{Tool: name, Reason: "factory returned no capability"}
	}

	if got := c.Descriptor().Name; got != name {
		return nil, &domain.ContractViolationError{Tool: name, Reason: fmt.Sprintf("instance reports name %q", got)}
	}
	if spec.Descriptor.Rule {
		if _, ok := c.(ports.RuleCapability); !ok {
			return nil, &domain.ContractViolationError{Tool: name, Reason: "rule tool does not implement availability and decide"}
		}
	}
	return c, nil
}

func build(factory ports.Factory, name string, cfg ports.Config) (c ports.Capability, err error) {
	defer func() {
		if p := recover(); p != nil {
			c = nil
			err = &domain.ConfigurationError{Tool: name, Err: fmt.Errorf("factory panicked: %v", p)}
		}
	}()

	if cfg == nil {
		cfg = ports.Config{}
	}
	c, err = factory(cfg)
	if err != nil {
		return nil, &domain.ConfigurationError{Tool: name, Err: err}
	}
	return c, nil
}
