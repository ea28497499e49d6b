package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/buildsys"
	"github.com/usenabla-com/nabla-runners/internal/foundation"
	"github.com/usenabla-com/nabla-runners/internal/jobs"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
	"github.com/usenabla-com/nabla-runners/internal/orchestrator"
	"github.com/usenabla-com/nabla-runners/internal/workspace"
)

// outputTailLimit bounds the build output stored on the job record so
// a chatty compiler cannot bloat the registry.
const outputTailLimit = 4000

// BuildPipeline runs one job end to end: materialize the source tree,
// detect the build system, drive the adaptive build loop and ship the
// artifact.
type BuildPipeline struct {
	workspaces *workspace.Manager
	orch       *orchestrator.Orchestrator
}

// NewBuildPipeline wires a pipeline over the given workspace manager
// and orchestrator.
func NewBuildPipeline(workspaces *workspace.Manager, orch *orchestrator.Orchestrator) *BuildPipeline {
	return &BuildPipeline{workspaces: workspaces, orch: orch}
}

// Run implements jobs.Pipeline.
func (p *BuildPipeline) Run(ctx context.Context, job *jobs.BuildJob, onDetect func(system string)) (string, string, error) {
	if _, err := p.workspaces.Create(job.ID); err != nil {
		return "", "", foundation.NewError(foundation.ErrorCodeInternal, "failed to create workspace").
			WithCause(err).WithComponent("pipeline").Build()
	}

	srcDir, err := p.fetch(ctx, job)
	if err != nil {
		p.workspaces.Remove(job.ID)
		return "", "", err
	}
	stages := []string{"Workspace ready: " + srcDir}

	system, ok := buildsys.Detect(srcDir)
	if !ok {
		p.workspaces.Remove(job.ID)
		return "", "", foundation.NewError(foundation.ErrorCodeUnsupported, "no supported build system detected").
			WithComponent("pipeline").WithContext("path", srcDir).Build()
	}
	onDetect(string(system))
	stages = append(stages, "Detected build system: "+string(system))
	slog.Info("Build system detected",
		logfields.JobID(job.ID),
		logfields.BuildSystem(string(system)))

	result, err := p.orch.Run(ctx, srcDir, system)
	if err != nil {
		p.workspaces.Remove(job.ID)
		return "", "", err
	}
	if result.Output != "" {
		stages = append(stages, result.Output)
	}
	stages = append(stages, fmt.Sprintf("Build succeeded in %s", result.Duration.Round(time.Millisecond)))

	artifactPath, err := p.workspaces.PackageArtifact(job.ID, result.OutputPath)
	if err != nil {
		p.workspaces.Remove(job.ID)
		return tail(strings.Join(stages, "\n"), outputTailLimit), "", foundation.NewError(foundation.ErrorCodeInternal, "failed to package artifact").
			WithCause(err).WithComponent("pipeline").Build()
	}
	stages = append(stages, "Artifact packaged: "+filepath.Base(artifactPath))
	output := tail(strings.Join(stages, "\n"), outputTailLimit)

	if job.UploadURL != "" {
		meta := workspace.UploadMeta{
			Owner:          job.Owner,
			Repo:           job.Repo,
			HeadSHA:        job.HeadSHA,
			InstallationID: job.InstallationID,
			CustomerName:   job.CustomerName,
		}
		start := time.Now()
		if err := p.workspaces.UploadArtifact(ctx, job.UploadURL, artifactPath, meta); err != nil {
			p.workspaces.Remove(job.ID)
			return output, "", err
		}
		slog.Info("Artifact uploaded",
			logfields.JobID(job.ID),
			logfields.Artifact(artifactPath),
			logfields.DurationMS(float64(time.Since(start).Milliseconds())))
		// Uploaded artifacts do not need to linger on disk.
		p.workspaces.Remove(job.ID)
		return output, artifactPath, nil
	}

	// Without an upload target the workspace stays so the artifact
	// path on the job record remains resolvable until cleanup.
	return output, artifactPath, nil
}

func (p *BuildPipeline) fetch(ctx context.Context, job *jobs.BuildJob) (string, error) {
	switch {
	case job.Source.ArchiveURL != "":
		return p.workspaces.FetchArchive(ctx, job.ID, job.Source.ArchiveURL)
	case job.Source.GitURL != "":
		return p.workspaces.FetchGit(ctx, job.ID, job.Source.GitURL, job.Source.GitRef)
	default:
		return "", foundation.NewError(foundation.ErrorCodeValidation, "job has no source").
			WithComponent("pipeline").Build()
	}
}

// tail returns at most limit trailing bytes of s.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
