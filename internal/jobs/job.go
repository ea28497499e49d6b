// Package jobs tracks build jobs from submission through terminal
// outcome and runs their pipelines on a bounded worker pool.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current lifecycle state of a build job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status cannot transition further.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Source locates the project tree a job builds: either an archive to
// download or a git repository to clone.
type Source struct {
	ArchiveURL string `json:"archive_url,omitempty"`
	GitURL     string `json:"git_url,omitempty"`
	GitRef     string `json:"git_ref,omitempty"`
}

// BuildJob is one build request's full lifecycle record. The Store
// owns the canonical copy; callers only ever see snapshots.
type BuildJob struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Source         Source     `json:"source"`
	Owner          string     `json:"owner"`
	Repo           string     `json:"repo"`
	HeadSHA        string     `json:"head_sha,omitempty"`
	InstallationID string     `json:"installation_id"`
	CustomerName   string     `json:"customer_name,omitempty"`
	UploadURL      string     `json:"upload_url,omitempty"`
	BuildSystem    string     `json:"build_system,omitempty"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	ArtifactPath   string     `json:"artifact_path,omitempty"`
}

// NewBuildJob creates a job in the Queued state with a fresh id.
func NewBuildJob(source Source, owner, repo, headSHA, installationID, uploadURL, customerName string) *BuildJob {
	return &BuildJob{
		ID:             uuid.NewString(),
		Status:         StatusQueued,
		CreatedAt:      time.Now().UTC(),
		Source:         source,
		Owner:          owner,
		Repo:           repo,
		HeadSHA:        headSHA,
		InstallationID: installationID,
		UploadURL:      uploadURL,
		CustomerName:   customerName,
	}
}

// start transitions the job to Running and stamps StartedAt. Called
// only by the Store under its lock.
func (j *BuildJob) start() {
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = &now
}

// complete moves the job to its successful terminal state.
func (j *BuildJob) complete(output, artifactPath string) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.Output = output
	j.ArtifactPath = artifactPath
}

// fail moves the job to its failed terminal state.
func (j *BuildJob) fail(errText string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.Error = errText
}

// clone returns a deep copy safe to hand outside the store.
func (j *BuildJob) clone() *BuildJob {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
