package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/parley/pkg/domain"
)

// SetupTestRepo creates a temporary directory and initializes a Loam repository in it.
// It returns the absolute path to the temp dir and the initialized repository.
func SetupTestRepo(t *testing.T, opts ...loam.Option) (string, core.Repository) {
	t.Helper()

	absPath, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	repo, err := loam.Init(absPath, opts...)
	require.NoError(t, err, "Failed to init loam repo")

	return absPath, repo
}

// WriteFlowMarkdown writes each flow as <id>.md with the flow in the frontmatter.
func WriteFlowMarkdown(t *testing.T, dir string, flows ...domain.Flow) {
	t.Helper()
	for _, f := range flows {
		front, err := yaml.Marshal(f)
		require.NoError(t, err)
		doc := "---\n" + string(front) + "---\n" + f.Name + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, f.ID+".md"), []byte(doc), 0o644))
	}
}
