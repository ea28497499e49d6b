package buildsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

func writeFile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF"), mode))
}

func TestFindArtifactExactCandidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "firmware.elf"), 0o644)

	got, err := findArtifact(dir, []string{"firmware"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "firmware.elf"), got)
}

func TestFindArtifactExtensionOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "firmware.bin"), 0o644)
	writeFile(t, filepath.Join(dir, "firmware.elf"), 0o644)

	got, err := findArtifact(dir, []string{"firmware"})
	require.NoError(t, err)
	// .elf outranks .bin in the extension table.
	assert.Equal(t, filepath.Join(dir, "firmware.elf"), got)
}

func TestFindArtifactNestedCandidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "firmware.hex"), 0o644)

	got, err := findArtifact(dir, []string{"main", "build/firmware"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "build", "firmware.hex"), got)
}

func TestFindArtifactExecutableFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), 0o644)
	writeFile(t, filepath.Join(dir, "mystery-binary"), 0o755)

	got, err := findArtifact(dir, []string{"firmware"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mystery-binary"), got)
}

func TestExecutableScanSkipsScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "deploy.sh"), 0o755)
	writeFile(t, filepath.Join(dir, "gen.py"), 0o755)
	writeFile(t, filepath.Join(dir, "config.yaml"), 0o755)

	_, err := findExecutable(dir)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeArtifactNotFound))
}

func TestFindArtifactMissingDir(t *testing.T) {
	_, err := findArtifact(filepath.Join(t.TempDir(), "absent"), []string{"firmware"})
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeArtifactNotFound))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "elf", formatFromPath("/x/firmware.elf", "bin"))
	assert.Equal(t, "bin", formatFromPath("/x/firmware", "bin"))
}
