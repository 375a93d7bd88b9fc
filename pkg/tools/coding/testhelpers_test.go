package coding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/entrhq/macpilot/pkg/security/workspace"
)

// newTestStore creates a file store over a fresh temp directory
func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	require.NoError(t, err)
	return NewFileStore(guard), guard.Root()
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
