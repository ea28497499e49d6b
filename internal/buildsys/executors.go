package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// Candidate artifact names for firmware projects, per system. These are
// conventions, not guarantees; the executable scan covers the rest.
var (
	makeCandidates = []string{
		"firmware", "main", "app", "output",
		"build/firmware", "bin/firmware", "out/firmware", "dist/firmware",
	}
	cmakeCandidates = []string{
		"firmware", "main", "app",
		"bin/firmware", "bin/main", "src/firmware", "src/main",
	}
	sconsCandidates = []string{
		"build/firmware", "build/main", "firmware", "main",
		"output/firmware", "bin/firmware",
	}
	platformioArtifacts = []string{"firmware", "program"}
	zephyrAlternates    = []string{
		"build/zephyr/zephyr.bin",
		"build/zephyr/zephyr.hex",
		"build/app.elf",
	}
)

func (e *Executor) buildMake(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()

	// Probe the makefile database first; the output names it reports
	// are not parsed yet but the probe surfaces broken makefiles with a
	// cheaper invocation.
	_, _ = e.runTool(ctx, nil, path, "make", "-n", "--print-data-base")

	if _, err := e.runTool(ctx, log, path, "make"); err != nil {
		return nil, err
	}

	artifact, err := findArtifact(path, makeCandidates)
	if err != nil {
		return nil, err
	}
	return newSuccessResult(artifact, formatFromPath(artifact, "bin"), SystemMakefile, start), nil
}

func (e *Executor) buildCMake(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()
	buildDir := filepath.Join(path, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, foundation.NewError(foundation.ErrorCodeToolInvocation,
			"create cmake build directory").WithComponent("executor").WithCause(err).Build()
	}

	if _, err := e.runTool(ctx, log, buildDir, "cmake", ".."); err != nil {
		return nil, err
	}
	if _, err := e.runTool(ctx, log, buildDir, "cmake", "--build", "."); err != nil {
		return nil, err
	}

	artifact, err := findArtifact(buildDir, cmakeCandidates)
	if err != nil {
		return nil, err
	}
	return newSuccessResult(artifact, formatFromPath(artifact, "elf"), SystemCMake, start), nil
}

func (e *Executor) buildPlatformIO(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()
	if _, err := e.runTool(ctx, log, path, "pio", "run"); err != nil {
		return nil, err
	}

	// PlatformIO writes one output directory per configured
	// environment; any of them may hold the firmware image.
	buildBase := filepath.Join(path, ".pio", "build")
	entries, err := os.ReadDir(buildBase)
	if err != nil {
		return nil, artifactNotFound(buildBase)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		envDir := filepath.Join(buildBase, entry.Name())
		for _, name := range platformioArtifacts {
			for _, ext := range []string{".hex", ".bin", ".elf"} {
				p := filepath.Join(envDir, name+ext)
				if info, statErr := os.Stat(p); statErr == nil && !info.IsDir() {
					return newSuccessResult(p, ext[1:], SystemPlatformIO, start), nil
				}
			}
		}
	}
	return nil, artifactNotFound(buildBase)
}

func (e *Executor) buildZephyr(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()
	if _, err := e.runTool(ctx, log, path, "west", "build"); err != nil {
		return nil, err
	}

	primary := filepath.Join(path, "build", "zephyr", "zephyr.elf")
	if info, err := os.Stat(primary); err == nil && !info.IsDir() {
		return newSuccessResult(primary, "elf", SystemZephyrWest, start), nil
	}
	for _, alt := range zephyrAlternates {
		p := filepath.Join(path, alt)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return newSuccessResult(p, formatFromPath(p, "bin"), SystemZephyrWest, start), nil
		}
	}
	return nil, artifactNotFound(filepath.Join(path, "build"))
}

func (e *Executor) buildSTM32(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()

	// STM32CubeMX projects commonly generate STM32Make.make; trees
	// without it still build with the plain makefile when present.
	makeArgs := []string{"-f", "STM32Make.make"}
	if _, err := os.Stat(filepath.Join(path, "STM32Make.make")); err != nil {
		if _, err := os.Stat(filepath.Join(path, "Makefile")); err != nil {
			return nil, foundation.NewError(foundation.ErrorCodeToolInvocation,
				"STM32 build requires STM32Make.make or a generated Makefile").
				WithComponent("executor").WithContext("path", path).Build()
		}
		makeArgs = nil
	}
	if _, err := e.runTool(ctx, log, path, "make", makeArgs...); err != nil {
		return nil, err
	}

	for _, dir := range []string{"build", "Debug", "Release"} {
		if artifact, err := findExecutable(filepath.Join(path, dir)); err == nil {
			return newSuccessResult(artifact, formatFromPath(artifact, "elf"), SystemSTM32Cube, start), nil
		}
	}
	return nil, artifactNotFound(filepath.Join(path, "build"))
}

func (e *Executor) buildSCons(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()
	if _, err := e.runTool(ctx, log, path, "scons"); err != nil {
		return nil, err
	}

	artifact, err := findArtifact(path, sconsCandidates)
	if err != nil {
		return nil, err
	}
	return newSuccessResult(artifact, formatFromPath(artifact, "bin"), SystemSCons, start), nil
}

func (e *Executor) buildCargo(ctx context.Context, log *buildLog, path string) (*Result, error) {
	start := time.Now()
	if _, err := e.runTool(ctx, log, path, "cargo", "build", "--release"); err != nil {
		return nil, err
	}

	releaseDir := filepath.Join(path, "target", "release")
	artifact, err := findExecutable(releaseDir)
	if err != nil {
		return nil, fmt.Errorf("cargo build produced no binary: %w", err)
	}
	return newSuccessResult(artifact, formatFromPath(artifact, "bin"), SystemCargo, start), nil
}
