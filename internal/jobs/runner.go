package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/events"
	"github.com/usenabla-com/nabla-runners/internal/foundation"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
	"github.com/usenabla-com/nabla-runners/internal/metrics"
)

// Pipeline executes one build job end to end: fetch the source, detect
// the build system, run the adaptive build and package the artifact.
// It returns the combined build output and the artifact path.
type Pipeline interface {
	Run(ctx context.Context, job *BuildJob, onDetect func(system string)) (output, artifactPath string, err error)
}

// PipelineFunc adapts a plain function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, job *BuildJob, onDetect func(system string)) (string, string, error)

func (f PipelineFunc) Run(ctx context.Context, job *BuildJob, onDetect func(system string)) (string, string, error) {
	return f(ctx, job, onDetect)
}

// Runner drains queued jobs onto a bounded pool of workers. Each
// worker runs the pipeline under a per-job context whose cancel
// function is registered in the Store, so Cancel reaches straight
// into the running build.
type Runner struct {
	store    *Store
	pipeline Pipeline
	recorder metrics.Recorder
	events   events.Publisher

	jobs     chan string
	workers  int
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// RunnerOptions configures the worker pool.
type RunnerOptions struct {
	Workers   int
	QueueSize int
	Recorder  metrics.Recorder
	Events    events.Publisher
}

// NewRunner creates a runner over the given store and pipeline.
func NewRunner(store *Store, pipeline Pipeline, opts RunnerOptions) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	return &Runner{
		store:    store,
		pipeline: pipeline,
		recorder: opts.Recorder,
		events:   opts.Events,
		jobs:     make(chan string, opts.QueueSize),
		workers:  opts.Workers,
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start(ctx context.Context) {
	slog.Info("Starting job runner", "workers", r.workers, "queue_size", cap(r.jobs))
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop shuts the pool down and waits for in-flight jobs to wind up.
// Running jobs observe cancellation through their job contexts.
func (r *Runner) Stop() {
	slog.Info("Stopping job runner")
	close(r.stopChan)
	for _, job := range r.store.List() {
		if job.Status == StatusRunning {
			// Terminal-state errors just mean the job beat us to the line.
			_ = r.store.Cancel(job.ID)
		}
	}
	r.wg.Wait()
	slog.Info("Job runner stopped")
}

// Submit registers the job and queues it for execution.
func (r *Runner) Submit(job *BuildJob) (string, error) {
	id, err := r.store.Submit(job)
	if err != nil {
		return "", err
	}
	select {
	case r.jobs <- id:
	default:
		// Roll back the registration so a retried submit is clean.
		_ = r.store.Fail(id, "build queue is full")
		return "", foundation.NewError(foundation.ErrorCodeValidation, "build queue is full").
			WithComponent("runner").Build()
	}
	r.recorder.SetQueueDepth(len(r.jobs))
	r.events.JobQueued(id, job.Owner, job.Repo)
	slog.Info("Build job enqueued",
		logfields.JobID(id),
		logfields.Owner(job.Owner),
		logfields.Repository(job.Repo))
	return id, nil
}

// QueueDepth returns the number of jobs waiting for a worker.
func (r *Runner) QueueDepth() int {
	return len(r.jobs)
}

func (r *Runner) worker(ctx context.Context, workerID string) {
	defer r.wg.Done()

	slog.Debug("Job worker started", logfields.Worker(workerID))
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Job worker stopped by context", logfields.Worker(workerID))
			return
		case <-r.stopChan:
			slog.Debug("Job worker stopped by stop signal", logfields.Worker(workerID))
			return
		case id := <-r.jobs:
			r.recorder.SetQueueDepth(len(r.jobs))
			r.processJob(ctx, id, workerID)
		}
	}
}

func (r *Runner) processJob(ctx context.Context, id, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.store.Start(id, cancel); err != nil {
		// Cancelled while still queued; nothing to run.
		slog.Info("Skipping job no longer runnable", logfields.JobID(id), logfields.Error(err))
		return
	}
	job, err := r.store.Get(id)
	if err != nil {
		return
	}

	r.recorder.SetActiveJobs(r.countRunning())
	r.events.JobStarted(id, workerID)
	slog.Info("Build job started",
		logfields.JobID(id),
		logfields.Worker(workerID),
		logfields.Repository(job.Repo))

	started := time.Now()
	output, artifactPath, err := r.pipeline.Run(jobCtx, job, func(system string) {
		_ = r.store.SetBuildSystem(id, system)
	})
	duration := time.Since(started)

	if err != nil {
		// A cancelled job was already forced to Failed by the store;
		// the Fail below is then a no-op returning a terminal-state
		// error we deliberately ignore.
		_ = r.store.Fail(id, err.Error())
		failText := err.Error()
		if final, gerr := r.store.Get(id); gerr == nil {
			// The recorded reason wins (cancellation beat the pipeline
			// error); a swept record falls back to the pipeline error.
			failText = final.Error
		}
		r.events.JobFailed(id, failText)
		slog.Error("Build job failed",
			logfields.JobID(id),
			logfields.Worker(workerID),
			logfields.DurationMS(float64(duration.Milliseconds())),
			logfields.Error(err))
	} else {
		if cerr := r.store.Complete(id, output, artifactPath); cerr != nil {
			// Lost the race against Cancel; the terminal record wins.
			slog.Warn("Build finished after cancellation", logfields.JobID(id))
		} else {
			r.events.JobCompleted(id, artifactPath, duration)
			slog.Info("Build job completed",
				logfields.JobID(id),
				logfields.Worker(workerID),
				logfields.Artifact(artifactPath),
				logfields.DurationMS(float64(duration.Milliseconds())))
		}
	}
	r.recorder.SetActiveJobs(r.countRunning())
}

func (r *Runner) countRunning() int {
	n := 0
	for _, job := range r.store.List() {
		if job.Status == StatusRunning {
			n++
		}
	}
	return n
}
