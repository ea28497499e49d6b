package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"JobID", KeyJobID, "123", JobID("123")},
		{"JobStatus", KeyJobStatus, "queued", JobStatus("queued")},
		{"BuildSystem", KeyBuildSystem, "cmake", BuildSystem("cmake")},
		{"Strategy", KeyStrategy, "default", Strategy("default")},
		{"Artifact", KeyArtifact, "/out/firmware.elf", Artifact("/out/firmware.elf")},
		{"Repository", KeyRepo, "repo1", Repository("repo1")},
		{"Owner", KeyOwner, "acme", Owner("acme")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Worker", KeyWorker, "worker-1", Worker("worker-1")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"URLPath", KeyURLPath, "/api/v1/builds", URLPath("/api/v1/builds")},
		{"UserAgent", KeyUserAgent, "ua", UserAgent("ua")},
		{"RemoteAddr", KeyRemoteAddr, "1.2.3.4", RemoteAddr("1.2.3.4")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestErrorAttr(t *testing.T) {
	if got := Error(nil).Value.String(); got != "" {
		t.Fatalf("nil error should format empty, got %q", got)
	}
	if got := Error(errors.New("boom")).Value.String(); got != "boom" {
		t.Fatalf("expected boom, got %q", got)
	}
}
