package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID       = "job_id"
	KeyJobStatus   = "job_status"
	KeyBuildSystem = "build_system"
	KeyStrategy    = "strategy"
	KeyAttempt     = "attempt"
	KeyArtifact    = "artifact"
	KeyRepo        = "repository"
	KeyOwner       = "owner"
	KeyPath        = "path"
	KeyWorker      = "worker"
	KeyDurationMS  = "duration_ms"
	KeyMethod      = "method"
	KeyStatus      = "status"
	KeyURLPath     = "url_path"
	KeyUserAgent   = "user_agent"
	KeyRemoteAddr  = "remote_addr"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr     { return slog.String(KeyJobStatus, s) }
func BuildSystem(b string) slog.Attr   { return slog.String(KeyBuildSystem, b) }
func Strategy(s string) slog.Attr      { return slog.String(KeyStrategy, s) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func Artifact(p string) slog.Attr      { return slog.String(KeyArtifact, p) }
func Repository(r string) slog.Attr    { return slog.String(KeyRepo, r) }
func Owner(o string) slog.Attr         { return slog.String(KeyOwner, o) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Worker(w string) slog.Attr        { return slog.String(KeyWorker, w) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr        { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr        { return slog.Int(KeyStatus, code) }
func URLPath(p string) slog.Attr       { return slog.String(KeyURLPath, p) }
func UserAgent(ua string) slog.Attr    { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(addr string) slog.Attr { return slog.String(KeyRemoteAddr, addr) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
