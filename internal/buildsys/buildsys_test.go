package buildsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestDetectSingleMarker(t *testing.T) {
	cases := []struct {
		name   string
		marker string
		want   System
	}{
		{"cargo", "Cargo.toml", SystemCargo},
		{"makefile upper", "Makefile", SystemMakefile},
		{"makefile lower", "makefile", SystemMakefile},
		{"cmake", "CMakeLists.txt", SystemCMake},
		{"platformio", "platformio.ini", SystemPlatformIO},
		{"zephyr manifest", "west.yml", SystemZephyrWest},
		{"stm32 project", "firmware.project", SystemSTM32Cube},
		{"stm32 cproject", "app.cproject", SystemSTM32Cube},
		{"scons", "SConstruct", SystemSCons},
		{"sconscript", "SConscript", SystemSCons},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, filepath.Join(dir, tc.marker))
			got, ok := Detect(dir)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetectWestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".west"), 0o755))
	got, ok := Detect(dir)
	require.True(t, ok)
	assert.Equal(t, SystemZephyrWest, got)
}

// Projects carrying several markers must resolve to the highest
// priority system, and do so on every call.
func TestDetectPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "SConstruct"))
	touch(t, filepath.Join(dir, "platformio.ini"))
	touch(t, filepath.Join(dir, "CMakeLists.txt"))
	touch(t, filepath.Join(dir, "Makefile"))
	touch(t, filepath.Join(dir, "Cargo.toml"))

	for range 5 {
		got, ok := Detect(dir)
		require.True(t, ok)
		assert.Equal(t, SystemCargo, got)
	}

	require.NoError(t, os.Remove(filepath.Join(dir, "Cargo.toml")))
	got, ok := Detect(dir)
	require.True(t, ok)
	assert.Equal(t, SystemMakefile, got)

	require.NoError(t, os.Remove(filepath.Join(dir, "Makefile")))
	got, _ = Detect(dir)
	assert.Equal(t, SystemCMake, got)
}

func TestDetectNothing(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "README.md"))
	_, ok := Detect(dir)
	assert.False(t, ok)
}

func TestDetectMissingDirectory(t *testing.T) {
	_, ok := Detect(filepath.Join(t.TempDir(), "nope"))
	assert.False(t, ok)
}
