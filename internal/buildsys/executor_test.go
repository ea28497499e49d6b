package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// stubTools creates fake build tools on PATH so executor behavior can
// be exercised without the real toolchains installed.
func stubTools(t *testing.T, scripts map[string]string) {
	t.Helper()
	binDir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(binDir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestBuildMakeSuccess(t *testing.T) {
	stubTools(t, map[string]string{
		// The dry-run probe and the real build hit the same stub; only
		// the real build (no args) writes the artifact.
		"make": `if [ $# -eq 0 ]; then echo "CC main.c"; printf elf > firmware.bin; fi`,
	})
	project := t.TempDir()
	touch(t, filepath.Join(project, "Makefile"))

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemMakefile)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, filepath.Join(project, "firmware.bin"), res.OutputPath)
	assert.Equal(t, "bin", res.TargetFormat)
	assert.Equal(t, SystemMakefile, res.System)
	assert.Greater(t, res.Duration, time.Duration(0))
	// Tool stdout is carried on the result; the dry-run pass is not.
	assert.Contains(t, res.Output, "$ make")
	assert.Contains(t, res.Output, "CC main.c")
	assert.NotContains(t, res.Output, "print-data-base")
}

func TestBuildMakeToolFailure(t *testing.T) {
	stubTools(t, map[string]string{
		"make": `if [ $# -eq 0 ]; then echo "fatal error: dht.h: No such file" >&2; exit 2; fi`,
	})
	project := t.TempDir()

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemMakefile)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeToolInvocation))
	assert.Contains(t, err.Error(), "dht.h")
}

func TestBuildMakeArtifactMissing(t *testing.T) {
	stubTools(t, map[string]string{"make": `exit 0`})
	project := t.TempDir()

	exec := NewExecutor(Options{})
	_, err := exec.Build(context.Background(), project, SystemMakefile)
	require.Error(t, err)
	// Clean exit without a locatable binary is still a failure.
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeArtifactNotFound))
}

func TestBuildCMake(t *testing.T) {
	stubTools(t, map[string]string{
		"cmake": `if [ "$1" = "--build" ]; then printf elf > main; chmod +x main; fi`,
	})
	project := t.TempDir()

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemCMake)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "build", "main"), res.OutputPath)
	assert.Equal(t, "elf", res.TargetFormat)
	assert.DirExists(t, filepath.Join(project, "build"))
}

func TestBuildPlatformIOPerEnvironmentScan(t *testing.T) {
	stubTools(t, map[string]string{
		"pio": `mkdir -p .pio/build/esp32dev && printf hex > .pio/build/esp32dev/firmware.hex`,
	})
	project := t.TempDir()

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemPlatformIO)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, ".pio", "build", "esp32dev", "firmware.hex"), res.OutputPath)
	assert.Equal(t, "hex", res.TargetFormat)
}

func TestBuildZephyrPrimaryAndAlternates(t *testing.T) {
	stubTools(t, map[string]string{
		"west": `mkdir -p build/zephyr && printf elf > build/zephyr/zephyr.elf`,
	})
	project := t.TempDir()

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemZephyrWest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "build", "zephyr", "zephyr.elf"), res.OutputPath)

	stubTools(t, map[string]string{
		"west": `mkdir -p build/zephyr && printf bin > build/zephyr/zephyr.bin`,
	})
	project = t.TempDir()
	res, err = exec.Build(context.Background(), project, SystemZephyrWest)
	require.NoError(t, err)
	assert.Equal(t, "bin", res.TargetFormat)
}

func TestBuildSTM32FallsBackToPlainMakefile(t *testing.T) {
	stubTools(t, map[string]string{
		"make": `mkdir -p build && printf elf > build/app.elf && chmod +x build/app.elf`,
	})
	project := t.TempDir()
	touch(t, filepath.Join(project, "Makefile"))

	exec := NewExecutor(Options{})
	res, err := exec.Build(context.Background(), project, SystemSTM32Cube)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "build", "app.elf"), res.OutputPath)
}

func TestBuildSTM32WithoutMakefiles(t *testing.T) {
	exec := NewExecutor(Options{})
	_, err := exec.Build(context.Background(), t.TempDir(), SystemSTM32Cube)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeToolInvocation))
}

func TestBuildTimeoutKillsTool(t *testing.T) {
	stubTools(t, map[string]string{
		"scons": `sleep 30`,
	})
	project := t.TempDir()

	exec := NewExecutor(Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := exec.Build(context.Background(), project, SystemSCons)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeTimeout))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBuildCancellation(t *testing.T) {
	stubTools(t, map[string]string{
		"scons": `sleep 30`,
	})
	project := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	exec := NewExecutor(Options{})
	_, err := exec.Build(ctx, project, SystemSCons)
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeCanceled))
}

func TestBuildUnknownSystem(t *testing.T) {
	exec := NewExecutor(Options{})
	_, err := exec.Build(context.Background(), t.TempDir(), System("ant"))
	require.Error(t, err)
	assert.True(t, foundation.IsCode(err, foundation.ErrorCodeUnsupported))
}
