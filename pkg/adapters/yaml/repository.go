// Package yaml serves flows from a directory of YAML documents, one flow per file.
package yaml

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flowdoc"
)

// Repository implements ports.FlowRepository over a directory tree.
// Files are read on every call; pair it with the flow cache.
type Repository struct {
	fsys fs.FS
	root string
}

// New reads flows from dir.
func New(dir string) *Repository {
	return &Repository{fsys: os.DirFS(dir), root: dir}
}

// NewFS reads flows from any fs.FS, such as an embed.FS.
func NewFS(fsys fs.FS) *Repository {
	return &Repository{fsys: fsys}
}

func isFlowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// load parses every flow document, rejecting duplicate ids.
func (r *Repository) load(ctx context.Context) (map[string]domain.Flow, error) {
	flows := make(map[string]domain.Flow)
	origin := make(map[string]string)

	err := fs.WalkDir(r.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isFlowFile(path) {
			return nil
		}
		data, err := fs.ReadFile(r.fsys, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		flow, err := flowdoc.ParseYAML(data, path)
		if err != nil {
			return err
		}
		if prev, ok := origin[flow.ID]; ok {
			return fmt.Errorf("duplicate flow id %q in %s and %s", flow.ID, prev, path)
		}
		origin[flow.ID] = path
		flows[flow.ID] = *flow
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load flows from %s: %w", r.label(), err)
	}
	return flows, nil
}

func (r *Repository) label() string {
	if r.root != "" {
		return r.root
	}
	return "fs"
}

func (r *Repository) LoadFlow(ctx context.Context, flowID string) (*domain.Flow, error) {
	flows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	flow, ok := flows[flowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, flowID)
	}
	return &flow, nil
}

// ListFlows returns the flows of connectionID sorted by id; all flows when it is empty.
func (r *Repository) ListFlows(ctx context.Context, connectionID string) ([]domain.Flow, error) {
	flows, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Flow, 0, len(flows))
	for _, f := range flows {
		if connectionID == "" || f.ConnectionID == connectionID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
