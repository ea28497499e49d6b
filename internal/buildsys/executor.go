package buildsys

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// Options configures tool execution.
type Options struct {
	// Timeout bounds each tool invocation. A hung external tool is
	// killed (whole process group) when it expires. Zero disables the
	// bound.
	Timeout time.Duration
	// ZephyrBase, when set, is exported as ZEPHYR_BASE for west builds.
	ZephyrBase string
	// Env holds extra environment overrides (CC, BOARD, ...) applied to
	// every tool invocation, typically accumulated by strategy
	// application between attempts.
	Env map[string]string
}

// Executor runs the native build tool for a detected system and
// locates the produced firmware artifact.
type Executor struct {
	opts Options
}

// NewExecutor constructs an Executor with the given options.
func NewExecutor(opts Options) *Executor {
	return &Executor{opts: opts}
}

// Build invokes the system's canonical build command in path and
// returns the build result. A non-zero tool exit or a missing artifact
// after a clean exit both yield an error; Build never returns a
// Result with Success=true for a failed invocation. The captured
// output of every tool invocation is carried on Result.Output.
func (e *Executor) Build(ctx context.Context, path string, system System) (*Result, error) {
	log := &buildLog{}
	res, err := e.dispatch(ctx, log, path, system)
	if res != nil {
		res.Output = log.String()
	}
	return res, err
}

func (e *Executor) dispatch(ctx context.Context, log *buildLog, path string, system System) (*Result, error) {
	switch system {
	case SystemCargo:
		return e.buildCargo(ctx, log, path)
	case SystemMakefile:
		return e.buildMake(ctx, log, path)
	case SystemCMake:
		return e.buildCMake(ctx, log, path)
	case SystemPlatformIO:
		return e.buildPlatformIO(ctx, log, path)
	case SystemZephyrWest:
		return e.buildZephyr(ctx, log, path)
	case SystemSTM32Cube:
		return e.buildSTM32(ctx, log, path)
	case SystemSCons:
		return e.buildSCons(ctx, log, path)
	default:
		return nil, foundation.NewError(foundation.ErrorCodeUnsupported,
			fmt.Sprintf("no executor for build system %q", system)).
			WithComponent("executor").Build()
	}
}

// toolOutput captures a finished tool invocation.
type toolOutput struct {
	stdout string
	stderr string
}

// buildLog accumulates the captured output of each tool invocation in
// the order it ran.
type buildLog struct {
	sections []string
}

func (l *buildLog) record(name string, args []string, out *toolOutput) {
	if l == nil || out == nil {
		return
	}
	section := "$ " + name
	if len(args) > 0 {
		section += " " + strings.Join(args, " ")
	}
	if out.stdout != "" {
		section += "\n" + strings.TrimRight(out.stdout, "\n")
	}
	if out.stderr != "" {
		section += "\n" + strings.TrimRight(out.stderr, "\n")
	}
	l.sections = append(l.sections, section)
}

func (l *buildLog) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(l.sections, "\n")
}

// runTool executes name with args in dir, capturing output. The child
// is placed in its own process group so that cancellation and timeouts
// terminate the whole tool tree, not just the direct child. A nil log
// discards the captured output.
func (e *Executor) runTool(ctx context.Context, log *buildLog, dir, name string, args ...string) (*toolOutput, error) {
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	if e.opts.ZephyrBase != "" || len(e.opts.Env) > 0 {
		env := os.Environ()
		if e.opts.ZephyrBase != "" {
			env = append(env, "ZEPHYR_BASE="+e.opts.ZephyrBase)
		}
		for k, v := range e.opts.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &toolOutput{stdout: stdout.String(), stderr: stderr.String()}
	log.record(name, args, out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			code := foundation.ErrorCodeCanceled
			if ctxErr == context.DeadlineExceeded {
				code = foundation.ErrorCodeTimeout
			}
			return out, foundation.NewError(code,
				fmt.Sprintf("%s terminated: %v", name, ctxErr)).
				WithComponent("executor").WithOperation(name).
				WithCause(ctxErr).Build()
		}
		return out, foundation.NewError(foundation.ErrorCodeToolInvocation,
			fmt.Sprintf("%s failed: %s", name, firstNonEmpty(out.stderr, err.Error()))).
			WithComponent("executor").WithOperation(name).
			WithContext("stderr", out.stderr).
			WithCause(err).Build()
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newSuccessResult(outputPath, format string, system System, start time.Time) *Result {
	return &Result{
		Success:      true,
		OutputPath:   outputPath,
		TargetFormat: format,
		System:       system,
		Duration:     time.Since(start),
	}
}
