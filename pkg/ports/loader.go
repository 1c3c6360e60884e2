package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// FlowRepository defines how the engine retrieves flow definitions.
// This allows the storage layer (YAML, SQL, Loam, Memory) to be decoupled.
type FlowRepository interface {
	// LoadFlow returns the full flow including its nodes.
	// Returns domain.ErrFlowNotFound if the id is unknown.
	LoadFlow(ctx context.Context, flowID string) (*domain.Flow, error)

	// ListFlows returns the flows owned by a connection, nodes optional.
	// An empty connectionID lists every flow.
	ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error)
}

// Watchable defines an interface for repositories that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel that receives the id of a changed flow,
	// or an empty string when every flow must be reloaded.
	Watch(ctx context.Context) (<-chan string, error)
}
