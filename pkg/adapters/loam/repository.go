// Package loam serves flows stored as loam documents: markdown with YAML
// frontmatter, or plain YAML/JSON files. It also reports changes so the flow
// cache can drop edited flows.
package loam

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/loam"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flowdoc"
)

// Repository implements ports.FlowRepository and ports.Watchable.
type Repository struct {
	Repo *loam.TypedRepository[FlowMetadata]

	mu sync.RWMutex
	// docs maps document ids to the flow id they declare.
	docs map[string]string
}

// New wraps a typed loam repository.
func New(repo *loam.TypedRepository[FlowMetadata]) *Repository {
	return &Repository{Repo: repo, docs: make(map[string]string)}
}

// Open initializes a read-only, strict loam repository at path.
func Open(path string) (*Repository, error) {
	repo, err := loam.Init(path,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize loam at %s: %w", path, err)
	}
	return New(loam.NewTypedRepository[FlowMetadata](repo)), nil
}

func (r *Repository) decode(docID string, meta FlowMetadata) (*domain.Flow, error) {
	flow, err := flowdoc.Decode(meta.raw(), docID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.docs[flowdoc.TrimExtension(docID)] = flow.ID
	r.mu.Unlock()
	return flow, nil
}

// LoadFlow looks the document up by id and falls back to a scan when the
// flow declares an id different from its file name.
func (r *Repository) LoadFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	if doc, err := r.Repo.Get(ctx, flowID); err == nil {
		flow, err := r.decode(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		if flow.ID == flowID {
			return flow, nil
		}
	}

	flows, err := r.ListFlows(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range flows {
		if flows[i].ID == flowID {
			return &flows[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, flowID)
}

// ListFlows decodes every document. Two documents declaring the same flow id is an error.
func (r *Repository) ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error) {
	docs, err := r.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	var out []domain.Flow
	for _, doc := range docs {
		flow, err := r.decode(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[flow.ID]; ok {
			return nil, fmt.Errorf("collision detected: flow %q is defined in both %q and %q", flow.ID, prev, doc.ID)
		}
		seen[flow.ID] = doc.ID
		if connectionID == "" || flow.ConnectionID == connectionID {
			out = append(out, *flow)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Watch implements ports.Watchable. It sends the id of a changed flow, or ""
// when the document was never loaded and any flow may be affected.
func (r *Repository) Watch(ctx context.Context) (<-chan string, error) {
	events, err := r.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- r.flowFor(evt.ID):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (r *Repository) flowFor(docID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[flowdoc.TrimExtension(strings.TrimPrefix(docID, "./"))]
}
