// Package events publishes job lifecycle events for external CI
// consumers. Publishing is best-effort; build progress never blocks on
// the message bus.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/usenabla-com/nabla-runners/internal/logfields"
)

// Publisher abstracts event emission so the daemon can run without a
// configured bus.
type Publisher interface {
	JobQueued(jobID, owner, repo string)
	JobStarted(jobID, workerID string)
	JobCompleted(jobID, artifactPath string, duration time.Duration)
	JobFailed(jobID, errText string)
	Close()
}

// NoopPublisher is the default Publisher when no bus is configured.
type NoopPublisher struct{}

func (NoopPublisher) JobQueued(string, string, string)           {}
func (NoopPublisher) JobStarted(string, string)                  {}
func (NoopPublisher) JobCompleted(string, string, time.Duration) {}
func (NoopPublisher) JobFailed(string, string)                   {}
func (NoopPublisher) Close()                                     {}

// event is the wire shape for all job lifecycle messages.
type event struct {
	Type         string `json:"type"`
	JobID        string `json:"job_id"`
	Owner        string `json:"owner,omitempty"`
	Repo         string `json:"repo,omitempty"`
	WorkerID     string `json:"worker_id,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// NATSPublisher publishes job events to a NATS subject hierarchy.
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSPublisher connects to the NATS server at url. Subjects are
// published under prefix (e.g. "nabla.jobs").
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "nabla.jobs"
	}
	slog.Info("NATS event publisher initialized", "url", url, "subject_prefix", prefix)
	return &NATSPublisher{conn: conn, subjectPrefix: prefix}, nil
}

func (p *NATSPublisher) JobQueued(jobID, owner, repo string) {
	p.publish("queued", event{Type: "job.queued", JobID: jobID, Owner: owner, Repo: repo})
}

func (p *NATSPublisher) JobStarted(jobID, workerID string) {
	p.publish("started", event{Type: "job.started", JobID: jobID, WorkerID: workerID})
}

func (p *NATSPublisher) JobCompleted(jobID, artifactPath string, duration time.Duration) {
	p.publish("completed", event{
		Type:         "job.completed",
		JobID:        jobID,
		ArtifactPath: artifactPath,
		DurationMS:   duration.Milliseconds(),
	})
}

func (p *NATSPublisher) JobFailed(jobID, errText string) {
	p.publish("failed", event{Type: "job.failed", JobID: jobID, Error: errText})
}

// Close drains the connection, flushing pending publishes.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		slog.Warn("NATS drain failed", logfields.Error(err))
	}
}

func (p *NATSPublisher) publish(suffix string, ev event) {
	ev.Timestamp = time.Now().Unix()
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to encode job event", logfields.JobID(ev.JobID), logfields.Error(err))
		return
	}
	if err := p.conn.Publish(p.subjectPrefix+"."+suffix, payload); err != nil {
		slog.Warn("Failed to publish job event",
			logfields.JobID(ev.JobID),
			slog.String("subject", p.subjectPrefix+"."+suffix),
			logfields.Error(err))
	}
}
