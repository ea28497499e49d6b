package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
	"github.com/usenabla-com/nabla-runners/internal/jobs"
	"github.com/usenabla-com/nabla-runners/internal/logfields"
)

// BuildRequest is the submission payload for a new build job.
type BuildRequest struct {
	ArchiveURL     string `json:"archive_url,omitempty"`
	GitURL         string `json:"git_url,omitempty"`
	GitRef         string `json:"git_ref,omitempty"`
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	HeadSHA        string `json:"head_sha,omitempty"`
	InstallationID string `json:"installation_id"`
	UploadURL      string `json:"upload_url,omitempty"`
}

// BuildResponse acknowledges a submitted job.
type BuildResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status     string    `json:"status"`
	Service    string    `json:"service"`
	Version    string    `json:"version"`
	Jobs       int       `json:"jobs"`
	QueueDepth int       `json:"queue_depth"`
	Timestamp  time.Time `json:"timestamp"`
}

// BuildHandlers serves the build job API.
type BuildHandlers struct {
	store        *jobs.Store
	runner       *jobs.Runner
	customerName string
	allowedIDs   map[string]bool
	errorAdapter *HTTPErrorAdapter
}

// NewBuildHandlers creates the job API handlers. allowedInstallations
// may be empty, which admits any installation id.
func NewBuildHandlers(store *jobs.Store, runner *jobs.Runner, customerName string, allowedInstallations []string) *BuildHandlers {
	allowed := make(map[string]bool, len(allowedInstallations))
	for _, id := range allowedInstallations {
		allowed[id] = true
	}
	return &BuildHandlers{
		store:        store,
		runner:       runner,
		customerName: customerName,
		allowedIDs:   allowed,
		errorAdapter: NewHTTPErrorAdapter(slog.Default()),
	}
}

// HandleSubmit accepts a build request, validates it and enqueues a job.
func (h *BuildHandlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r,
			foundation.NewError(foundation.ErrorCodeValidation, "invalid request body").
				WithCause(err).Build())
		return
	}
	if err := req.validate(h.allowedIDs); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}

	job := jobs.NewBuildJob(
		jobs.Source{ArchiveURL: req.ArchiveURL, GitURL: req.GitURL, GitRef: req.GitRef},
		req.Owner, req.Repo, req.HeadSHA, req.InstallationID, req.UploadURL, h.customerName)

	id, err := h.runner.Submit(job)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	slog.Info("Build request accepted",
		logfields.JobID(id),
		logfields.Owner(req.Owner),
		logfields.Repository(req.Repo))
	_ = writeJSON(w, http.StatusAccepted, BuildResponse{JobID: id, Status: string(jobs.StatusQueued)})
}

// HandleList returns all known jobs.
func (h *BuildHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, h.store.List())
}

// HandleGet returns one job by id.
func (h *BuildHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.PathValue("id"))
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

// HandleCancel aborts a queued or running job.
func (h *BuildHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.Cancel(id); err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	job, err := h.store.Get(id)
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, job)
}

// HandleHealth reports liveness plus a couple of queue gauges.
func (h *BuildHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Service:    "nabla-runner",
		Version:    Version,
		Jobs:       h.store.Len(),
		QueueDepth: h.runner.QueueDepth(),
		Timestamp:  time.Now().UTC(),
	})
}

func (r *BuildRequest) validate(allowedIDs map[string]bool) error {
	fail := func(msg string) error {
		return foundation.NewError(foundation.ErrorCodeValidation, msg).
			WithComponent("api").Build()
	}
	if (r.ArchiveURL == "") == (r.GitURL == "") {
		return fail("exactly one of archive_url or git_url is required")
	}
	if err := validateName("owner", r.Owner); err != nil {
		return err
	}
	if err := validateName("repo", r.Repo); err != nil {
		return err
	}
	if r.HeadSHA != "" {
		if len(r.HeadSHA) < 7 || len(r.HeadSHA) > 40 {
			return fail("head_sha must be 7 to 40 characters")
		}
		for _, c := range r.HeadSHA {
			if !isHex(c) {
				return fail("head_sha must be hexadecimal")
			}
		}
	}
	if r.InstallationID == "" {
		return fail("installation_id is required")
	}
	if n, err := strconv.ParseInt(r.InstallationID, 10, 64); err != nil || n <= 0 {
		return fail("installation_id must be a positive integer")
	}
	if len(allowedIDs) > 0 && !allowedIDs[r.InstallationID] {
		return fail("installation_id is not allowed")
	}
	return nil
}

func validateName(field, value string) error {
	if value == "" || len(value) > 100 {
		return foundation.NewError(foundation.ErrorCodeValidation,
			fmt.Sprintf("%s must be 1 to 100 characters", field)).
			WithComponent("api").Build()
	}
	for _, c := range value {
		if !isNameChar(c) {
			return foundation.NewError(foundation.ErrorCodeValidation,
				fmt.Sprintf("%s contains invalid characters", field)).
				WithComponent("api").Build()
		}
	}
	return nil
}

func isNameChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.':
		return true
	}
	return false
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// writeJSON encodes v into a buffer first so a marshal failure never
// sends a partial response.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}
