// Package eligibility decides whether a PI may open a new storage request.
// Policies are selected by name from the deployment config.
package eligibility

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"coldfront/internal/config"
)

// Candidate is the PI asking for storage.
type Candidate struct {
	PIID        uint
	PIUsername  string
	PIEmail     string
	ProjectName string
}

// Decision is the outcome of a policy check. Reason is set when not eligible.
type Decision struct {
	Eligible bool
	Reason   string
}

// Policy checks a candidate.
type Policy interface {
	Name() string
	Check(ctx context.Context, c Candidate) (Decision, error)
}

// Factory builds a policy from the deployment settings.
type Factory func(d config.Deployment) (Policy, error)

// Registry maps backend names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(PermissiveName, func(config.Deployment) (Policy, error) {
		return Permissive{}, nil
	})
	r.Register(WhitelistName, NewWhitelistFromDeployment)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the policy named by d.EligibilityBackend. An empty name selects
// the permissive backend.
func (r *Registry) New(d config.Deployment) (Policy, error) {
	name := strings.ToLower(strings.TrimSpace(d.EligibilityBackend))
	if name == "" {
		name = PermissiveName
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown eligibility backend %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(d)
}

// PermissiveName selects Permissive.
const PermissiveName = "permissive"

// Permissive treats every PI as eligible.
type Permissive struct{}

func (Permissive) Name() string { return PermissiveName }

func (Permissive) Check(context.Context, Candidate) (Decision, error) {
	return Decision{Eligible: true}, nil
}
