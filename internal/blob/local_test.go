package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "clips"), "http://localhost:8080/clips/")
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "scratch.mp4")
	require.NoError(t, os.WriteFile(srcPath, []byte("fake mp4 payload"), 0o644))

	res, err := s.Upload(context.Background(), srcPath)
	require.NoError(t, err)
	assert.Equal(t, int64(16), res.Size)
	assert.True(t, strings.HasPrefix(res.URL, "http://localhost:8080/clips/"))
	assert.True(t, strings.HasSuffix(res.ID, ".mp4"))

	// Source is left in place; stored copy has identical content
	_, err = os.Stat(srcPath)
	require.NoError(t, err)

	storedPath, err := s.Path(res.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake mp4 payload"), data)

	require.NoError(t, s.Delete(context.Background(), res.ID))
	_, err = os.Stat(storedPath)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadMissingSource(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost/clips")
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "/does/not/exist.mp4")
	assert.Error(t, err)
}

func TestPathRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "http://localhost/clips")
	require.NoError(t, err)

	_, err = s.Path("../etc/passwd")
	assert.Error(t, err)
	_, err = s.Path("")
	assert.Error(t, err)
}
