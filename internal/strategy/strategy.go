// Package strategy defines build remediation strategies as data, the
// failure analyzer that proposes them, and the applier that effects
// them on a project tree.
package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the strategy variants.
type Kind string

const (
	KindDefault              Kind = "default"
	KindToolchainFallback    Kind = "toolchain_fallback"
	KindConfigPatch          Kind = "config_patch"
	KindDependencyResolution Kind = "dependency_resolution"
	KindArchitectureSwitch   Kind = "architecture_switch"
	KindVersionDowngrade     Kind = "version_downgrade"
)

// Strategy is a named, data-described remediation action. Strategies
// are plain data so they can be logged, queued, persisted in the fix
// database, and compared for deduplication.
type Strategy struct {
	Kind      Kind              `json:"kind"`
	Toolchain string            `json:"toolchain,omitempty"`
	Patch     map[string]string `json:"patch,omitempty"`
	Packages  []string          `json:"packages,omitempty"`
	Arch      string            `json:"arch,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Default is the unmodified native build invocation.
func Default() Strategy { return Strategy{Kind: KindDefault} }

// ToolchainFallback re-runs the configure step forcing the named
// compiler.
func ToolchainFallback(name string) Strategy {
	return Strategy{Kind: KindToolchainFallback, Toolchain: name}
}

// ConfigPatch rewrites configuration keys. An empty patch map is the
// "clear the build cache" signal rather than a key edit.
func ConfigPatch(patch map[string]string) Strategy {
	return Strategy{Kind: KindConfigPatch, Patch: patch}
}

// DependencyResolution installs the named packages via the host
// package manager before retrying.
func DependencyResolution(packages ...string) Strategy {
	return Strategy{Kind: KindDependencyResolution, Packages: packages}
}

// ArchitectureSwitch requests the build run inside an alternate
// architecture sandbox.
func ArchitectureSwitch(arch string) Strategy {
	return Strategy{Kind: KindArchitectureSwitch, Arch: arch}
}

// VersionDowngrade pins the platform/package version.
func VersionDowngrade(version string) Strategy {
	return Strategy{Kind: KindVersionDowngrade, Version: version}
}

// Key returns a stable identity of the strategy's content, used for
// queue deduplication and as the fix-database value.
func (s Strategy) Key() string {
	var b strings.Builder
	b.WriteString(string(s.Kind))
	if s.Toolchain != "" {
		fmt.Fprintf(&b, "|toolchain=%s", s.Toolchain)
	}
	if len(s.Patch) > 0 {
		keys := make([]string, 0, len(s.Patch))
		for k := range s.Patch {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%s", k, s.Patch[k])
		}
	} else if s.Kind == KindConfigPatch {
		b.WriteString("|clear-cache")
	}
	if len(s.Packages) > 0 {
		fmt.Fprintf(&b, "|packages=%s", strings.Join(s.Packages, ","))
	}
	if s.Arch != "" {
		fmt.Fprintf(&b, "|arch=%s", s.Arch)
	}
	if s.Version != "" {
		fmt.Fprintf(&b, "|version=%s", s.Version)
	}
	return b.String()
}

// String renders a short human-readable form for logs.
func (s Strategy) String() string { return s.Key() }

// Encode serializes the strategy for persistence.
func (s Strategy) Encode() ([]byte, error) { return json.Marshal(s) }

// Decode deserializes a strategy written by Encode.
func Decode(data []byte) (Strategy, error) {
	var s Strategy
	if err := json.Unmarshal(data, &s); err != nil {
		return Strategy{}, fmt.Errorf("decode strategy: %w", err)
	}
	return s, nil
}
