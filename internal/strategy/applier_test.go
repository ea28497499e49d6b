package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

func TestApplyDefaultIsNoop(t *testing.T) {
	a := NewApplier(ApplierOptions{})
	require.NoError(t, a.Apply(context.Background(), Default(), t.TempDir(), buildsys.SystemMakefile))
	assert.Empty(t, a.Env())
}

func TestApplyPlatformIOConfigPatch(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "platformio.ini")
	require.NoError(t, os.WriteFile(ini, []byte(
		"[env:esp32dev]\nplatform = espressif32\nboard = esp32dev\n"), 0o644))

	a := NewApplier(ApplierOptions{})
	patch := ConfigPatch(map[string]string{
		"platform_packages": "framework-arduinoespressif32@3.20014.231204",
	})
	require.NoError(t, a.Apply(context.Background(), patch, dir, buildsys.SystemPlatformIO))

	data, err := os.ReadFile(ini)
	require.NoError(t, err)
	assert.Contains(t, string(data), "platform_packages = framework-arduinoespressif32@3.20014.231204")
	assert.Contains(t, string(data), "platform = espressif32", "untouched keys survive")
}

func TestApplyVersionDowngradeRewritesPlatformPin(t *testing.T) {
	dir := t.TempDir()
	ini := filepath.Join(dir, "platformio.ini")
	require.NoError(t, os.WriteFile(ini, []byte(
		"[env:esp32dev]\nplatform = espressif32\n"), 0o644))

	a := NewApplier(ApplierOptions{})
	require.NoError(t, a.Apply(context.Background(), VersionDowngrade("5.4.0"), dir, buildsys.SystemPlatformIO))

	data, err := os.ReadFile(ini)
	require.NoError(t, err)
	assert.Contains(t, string(data), "platform = espressif32@5.4.0")
	assert.NotContains(t, string(data), "platform = espressif32\n")
}

func TestApplyEmptyCMakePatchClearsCache(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "build", "CMakeCache.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(cache), 0o755))
	require.NoError(t, os.WriteFile(cache, []byte("stale"), 0o644))

	a := NewApplier(ApplierOptions{})
	require.NoError(t, a.Apply(context.Background(), ConfigPatch(nil), dir, buildsys.SystemCMake))
	assert.NoFileExists(t, cache)

	// Idempotent when the cache is already gone.
	require.NoError(t, a.Apply(context.Background(), ConfigPatch(nil), dir, buildsys.SystemCMake))
}

func TestApplyCMakePatchRewritesSetEntries(t *testing.T) {
	dir := t.TempDir()
	lists := filepath.Join(dir, "CMakeLists.txt")
	require.NoError(t, os.WriteFile(lists, []byte(
		"cmake_minimum_required(VERSION 3.16)\nset(CMAKE_TOOLCHAIN_FILE old.cmake)\n"), 0o644))

	a := NewApplier(ApplierOptions{})
	patch := ConfigPatch(map[string]string{"CMAKE_TOOLCHAIN_FILE": "/usr/local/share/cmake/toolchain.cmake"})
	require.NoError(t, a.Apply(context.Background(), patch, dir, buildsys.SystemCMake))

	data, err := os.ReadFile(lists)
	require.NoError(t, err)
	assert.Contains(t, string(data), `set(CMAKE_TOOLCHAIN_FILE "/usr/local/share/cmake/toolchain.cmake")`)
	assert.NotContains(t, string(data), "old.cmake")
}

func TestApplyZephyrPatchBecomesEnvOverride(t *testing.T) {
	a := NewApplier(ApplierOptions{})
	patch := ConfigPatch(map[string]string{"ZEPHYR_BASE": "/opt/zephyr", "board": "qemu_x86"})
	require.NoError(t, a.Apply(context.Background(), patch, t.TempDir(), buildsys.SystemZephyrWest))

	env := a.Env()
	assert.Equal(t, "/opt/zephyr", env["ZEPHYR_BASE"])
	assert.Equal(t, "qemu_x86", env["BOARD"])
}

func TestApplyToolchainFallbackSetsCC(t *testing.T) {
	a := NewApplier(ApplierOptions{})
	require.NoError(t, a.Apply(context.Background(), ToolchainFallback("clang"), t.TempDir(), buildsys.SystemMakefile))
	assert.Equal(t, "clang", a.Env()["CC"])
}

func TestApplyDependencyResolution(t *testing.T) {
	a := NewApplier(ApplierOptions{InstallCommand: []string{"true"}})
	err := a.Apply(context.Background(), DependencyResolution("west", "scons"), t.TempDir(), buildsys.SystemZephyrWest)
	require.NoError(t, err)
}

func TestApplyDependencyResolutionAbortsOnFirstFailure(t *testing.T) {
	a := NewApplier(ApplierOptions{InstallCommand: []string{"false"}})
	err := a.Apply(context.Background(), DependencyResolution("west"), t.TempDir(), buildsys.SystemZephyrWest)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeStrategy))
}

func TestApplyArchitectureSwitchNotImplemented(t *testing.T) {
	a := NewApplier(ApplierOptions{})
	err := a.Apply(context.Background(), ArchitectureSwitch("arm64"), t.TempDir(), buildsys.SystemPlatformIO)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeStrategy))
	assert.Contains(t, err.Error(), "not implemented")
}
