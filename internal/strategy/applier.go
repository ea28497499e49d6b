package strategy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// ApplierOptions configures strategy application.
type ApplierOptions struct {
	// InstallCommand is the package-manager prefix used for
	// DependencyResolution, defaulting to apt-get install -y.
	// Overridable for tests.
	InstallCommand []string
}

// Applier effects strategies on a project tree before the next build
// attempt. It accumulates environment overrides (compiler fallbacks,
// Zephyr variables) that the caller feeds into the next executor run.
type Applier struct {
	opts ApplierOptions
	env  map[string]string
}

// NewApplier constructs an Applier.
func NewApplier(opts ApplierOptions) *Applier {
	if len(opts.InstallCommand) == 0 {
		opts.InstallCommand = []string{"apt-get", "install", "-y"}
	}
	return &Applier{opts: opts, env: make(map[string]string)}
}

// Env returns the environment overrides accumulated so far.
func (a *Applier) Env() map[string]string {
	out := make(map[string]string, len(a.env))
	for k, v := range a.env {
		out[k] = v
	}
	return out
}

// Apply mutates the project configuration or environment according to
// the strategy. Default is a no-op. Errors carry the
// strategy_application code so the orchestrator counts them as failed
// attempts rather than crashes.
func (a *Applier) Apply(ctx context.Context, s Strategy, path string, system buildsys.System) error {
	switch s.Kind {
	case KindDefault:
		return nil
	case KindConfigPatch:
		return a.applyConfigPatch(s.Patch, path, system)
	case KindVersionDowngrade:
		return a.applyVersionDowngrade(s.Version, path, system)
	case KindToolchainFallback:
		return a.applyToolchainFallback(ctx, s.Toolchain, path, system)
	case KindDependencyResolution:
		return a.installPackages(ctx, s.Packages)
	case KindArchitectureSwitch:
		// Alternate-arch sandbox builds are a declared extension point.
		return foundation.NewError(foundation.ErrorCodeStrategy,
			fmt.Sprintf("architecture switch to %s not implemented", s.Arch)).
			WithComponent("applier").Build()
	default:
		return foundation.NewError(foundation.ErrorCodeStrategy,
			fmt.Sprintf("unknown strategy kind %q", s.Kind)).
			WithComponent("applier").Build()
	}
}

func (a *Applier) applyConfigPatch(patch map[string]string, path string, system buildsys.System) error {
	switch system {
	case buildsys.SystemPlatformIO:
		return patchIniFile(filepath.Join(path, "platformio.ini"), patch)
	case buildsys.SystemCMake:
		if len(patch) == 0 {
			return clearCMakeCache(path)
		}
		return patchCMakeLists(filepath.Join(path, "CMakeLists.txt"), patch)
	case buildsys.SystemZephyrWest:
		// West reads ZEPHYR_BASE and BOARD from the environment; patch
		// keys translate to overrides on the next invocation.
		for k, v := range patch {
			if k == "board" {
				k = "BOARD"
			}
			a.env[k] = v
		}
		return nil
	default:
		for k, v := range patch {
			a.env[k] = v
		}
		return nil
	}
}

func (a *Applier) applyVersionDowngrade(version, path string, system buildsys.System) error {
	switch system {
	case buildsys.SystemPlatformIO:
		return patchIniFile(filepath.Join(path, "platformio.ini"),
			map[string]string{"platform": "espressif32@" + version})
	default:
		return foundation.NewError(foundation.ErrorCodeStrategy,
			fmt.Sprintf("version downgrade not supported for %s", system)).
			WithComponent("applier").Build()
	}
}

func (a *Applier) applyToolchainFallback(ctx context.Context, toolchain, path string, system buildsys.System) error {
	switch system {
	case buildsys.SystemCMake:
		buildDir := filepath.Join(path, "build")
		if err := os.MkdirAll(buildDir, 0o755); err != nil {
			return foundation.NewError(foundation.ErrorCodeStrategy,
				"create cmake build directory").WithComponent("applier").WithCause(err).Build()
		}
		cmd := exec.CommandContext(ctx, "cmake", "-DCMAKE_C_COMPILER="+toolchain, "..")
		cmd.Dir = buildDir
		if out, err := cmd.CombinedOutput(); err != nil {
			return foundation.NewError(foundation.ErrorCodeStrategy,
				fmt.Sprintf("cmake configure with %s failed: %s", toolchain, strings.TrimSpace(string(out)))).
				WithComponent("applier").WithCause(err).Build()
		}
		return nil
	case buildsys.SystemSTM32Cube:
		// The STM32 executor already falls back to the plain Makefile
		// when STM32Make.make is absent; nothing to mutate here.
		return nil
	default:
		// make, scons and friends honor CC.
		a.env["CC"] = toolchain
		return nil
	}
}

func (a *Applier) installPackages(ctx context.Context, packages []string) error {
	for _, pkg := range packages {
		args := append(append([]string{}, a.opts.InstallCommand[1:]...), pkg)
		cmd := exec.CommandContext(ctx, a.opts.InstallCommand[0], args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			// No partial-install rollback; first failure aborts the
			// whole strategy.
			return foundation.NewError(foundation.ErrorCodeStrategy,
				fmt.Sprintf("install %s failed: %s", pkg, strings.TrimSpace(string(out)))).
				WithComponent("applier").WithCause(err).Build()
		}
	}
	return nil
}

// patchIniFile rewrites `key = ...` lines to `key = value` for every
// key present in patch. Keys not found in the file are appended at the
// end, landing in the last section so the override still applies.
func patchIniFile(path string, patch map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return foundation.NewError(foundation.ErrorCodeStrategy, "read config file").
			WithComponent("applier").WithCause(err).Build()
	}

	remaining := make(map[string]string, len(patch))
	for k, v := range patch {
		remaining[k] = v
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		eq := strings.Index(trimmed, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		if v, ok := remaining[key]; ok {
			lines[i] = key + " = " + v
			delete(remaining, key)
		}
	}
	for k, v := range patch {
		if _, ok := remaining[k]; ok {
			lines = append(lines, k+" = "+v)
		}
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return foundation.NewError(foundation.ErrorCodeStrategy, "write config file").
			WithComponent("applier").WithCause(err).Build()
	}
	return nil
}

// patchCMakeLists rewrites set(KEY ...) entries, appending missing
// keys at the end of the file.
func patchCMakeLists(path string, patch map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return foundation.NewError(foundation.ErrorCodeStrategy, "read CMakeLists.txt").
			WithComponent("applier").WithCause(err).Build()
	}

	remaining := make(map[string]string, len(patch))
	for k, v := range patch {
		remaining[k] = v
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for key, value := range remaining {
			if strings.HasPrefix(trimmed, "set("+key+" ") || strings.HasPrefix(trimmed, "set("+key+")") {
				lines[i] = fmt.Sprintf("set(%s %q)", key, value)
				delete(remaining, key)
			}
		}
	}
	for k, v := range patch {
		if _, ok := remaining[k]; ok {
			lines = append(lines, fmt.Sprintf("set(%s %q)", k, v))
		}
	}

	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return foundation.NewError(foundation.ErrorCodeStrategy, "write CMakeLists.txt").
			WithComponent("applier").WithCause(err).Build()
	}
	return nil
}

func clearCMakeCache(path string) error {
	for _, p := range []string{
		filepath.Join(path, "build", "CMakeCache.txt"),
		filepath.Join(path, "CMakeCache.txt"),
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return foundation.NewError(foundation.ErrorCodeStrategy, "clear cmake cache").
				WithComponent("applier").WithCause(err).Build()
		}
	}
	return nil
}
