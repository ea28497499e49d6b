package buildsys

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// binaryExtensions are tried, in order, when matching candidate
// artifact names. The empty entry matches extensionless binaries.
var binaryExtensions = []string{".elf", ".bin", ".hex", ".out", ""}

// nonBinaryExtensions disqualify a file from the executable-scan
// fallback even when its permission bits mark it executable.
var nonBinaryExtensions = map[string]bool{
	".sh":   true,
	".py":   true,
	".txt":  true,
	".md":   true,
	".yml":  true,
	".yaml": true,
	".json": true,
}

// findArtifact performs the two-phase artifact search: first the
// system-specific candidate names crossed with the known binary
// extensions, then a scan of dir for any executable file that is not
// an obvious script or text file.
func findArtifact(dir string, candidates []string) (string, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", artifactNotFound(dir)
	}

	for _, name := range candidates {
		for _, ext := range binaryExtensions {
			p := filepath.Join(dir, name+ext)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}

	return findExecutable(dir)
}

// findExecutable returns the first regular file in dir whose
// permission bits include an execute bit and whose extension is not in
// the non-binary deny-list.
func findExecutable(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", artifactNotFound(dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o111 == 0 {
			continue
		}
		if nonBinaryExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		return filepath.Join(dir, entry.Name()), nil
	}
	return "", artifactNotFound(dir)
}

// formatFromPath derives the target format tag from an artifact path,
// defaulting when the file has no extension.
func formatFromPath(path, fallback string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext[1:]
	}
	return fallback
}

func artifactNotFound(dir string) error {
	return foundation.NewError(foundation.ErrorCodeArtifactNotFound,
		fmt.Sprintf("no binary artifact located under %s", dir)).
		WithComponent("executor").Build()
}
