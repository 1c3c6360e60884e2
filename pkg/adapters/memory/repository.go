package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Repository implements ports.FlowRepository over an in-memory set of flows.
// It is handy for tests and for embedding flows built in Go code.
type Repository struct {
	mu    sync.RWMutex
	flows map[string]domain.Flow
}

// NewRepository creates a repository holding the given flows.
func NewRepository(flows ...domain.Flow) *Repository {
	r := &Repository{flows: make(map[string]domain.Flow, len(flows))}
	for _, f := range flows {
		r.flows[f.ID] = f
	}
	return r
}

// Put adds or replaces a flow.
func (r *Repository) Put(flow domain.Flow) error {
	if flow.ID == "" {
		return fmt.Errorf("flow missing ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[flow.ID] = flow
	return nil
}

// LoadFlow returns a copy of the flow.
func (r *Repository) LoadFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flows[flowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, flowID)
	}
	f.Nodes = append([]domain.Node(nil), f.Nodes...)
	return &f, nil
}

// ListFlows returns flows for the connection (all when empty) sorted by id.
func (r *Repository) ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Flow, 0, len(r.flows))
	for _, f := range r.flows {
		if connectionID != "" && f.ConnectionID != connectionID {
			continue
		}
		f.Nodes = append([]domain.Node(nil), f.Nodes...)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
