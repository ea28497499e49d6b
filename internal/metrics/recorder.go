// Package metrics provides observability hooks for build and job
// metrics. Components receive a Recorder by injection; the default
// NoopRecorder makes metrics strictly optional.
package metrics

import "time"

// OutcomeLabel enumerates terminal build outcomes for counters.
type OutcomeLabel string

const (
	OutcomeSuccess   OutcomeLabel = "success"
	OutcomeFailed    OutcomeLabel = "failed"
	OutcomeCanceled  OutcomeLabel = "canceled"
	OutcomeExhausted OutcomeLabel = "exhausted"
)

// Recorder defines observability hooks for the build pipeline.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveAttemptDuration(system string, d time.Duration)
	ObserveBuildDuration(system string, d time.Duration)
	IncBuildOutcome(outcome OutcomeLabel)
	IncStrategyAttempt(kind string)
	IncRetryExhausted(system string)
	SetActiveJobs(n int)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics
// are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveAttemptDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)   {}
func (NoopRecorder) IncBuildOutcome(OutcomeLabel)                 {}
func (NoopRecorder) IncStrategyAttempt(string)                    {}
func (NoopRecorder) IncRetryExhausted(string)                     {}
func (NoopRecorder) SetActiveJobs(int)                            {}
func (NoopRecorder) SetQueueDepth(int)                            {}
