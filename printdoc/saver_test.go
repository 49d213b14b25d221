package printdoc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	s, err := NewFileSaver(dir)
	require.NoError(t, err)

	path, err := s.Save(context.Background(), "badge-1-20250101-000000.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "badge-1-20250101-000000.pdf"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.3", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary file may remain")

	opened, err := s.Open("badge-1-20250101-000000.pdf")
	require.NoError(t, err)
	require.Equal(t, path, opened)

	_, err = s.Open("badge-2-20250101-000000.pdf")
	require.Error(t, err)
}

func TestFileSaverRejectsUnsafeNames(t *testing.T) {
	s, err := NewFileSaver(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.pdf", "nested/file.pdf", ".hidden.pdf"} {
		_, err := s.Save(context.Background(), name, []byte("x"))
		require.Error(t, err, name)
		_, err = s.Open(name)
		require.Error(t, err, name)
	}
}
