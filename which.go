package dfork

import (
	"os"
	"path/filepath"
	"strings"
)

// Which resolves name to an absolute executable path using path (a
// colon-separated PATH-style string). If path is empty, the current
// process's PATH environment variable is used. It returns "", false if no
// executable is found, mirroring shutil.which's "nothing" result rather
// than an error — callers needing a hard failure (as dfork.New does for
// argv[0] and the supervise binary) turn that into ErrNotFound.
func Which(name string, path string) (string, bool) {
	if strings.Contains(name, "/") {
		if isExecutableFile(name) {
			abs, err := filepath.Abs(name)
			if err != nil {
				return "", false
			}

			return abs, true
		}

		return "", false
	}

	if path == "" {
		path = os.Getenv("PATH")
	}

	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}

		candidate := filepath.Join(dir, name)
		if isExecutableFile(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				continue
			}

			return abs, true
		}
	}

	return "", false
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	return info.Mode()&0o111 != 0
}

var supervisorPath string

// resolveSupervisor locates the "supervise" utility on PATH once, caching
// the result for the lifetime of the process (spec.md §4.3: "Resolve the
// supervisor binary path once (at module init or lazily, cached)").
func resolveSupervisor() (string, error) {
	if supervisorPath != "" {
		return supervisorPath, nil
	}

	path, ok := Which("supervise", "")
	if !ok {
		return "", ErrNotFound
	}

	supervisorPath = path
	return path, nil
}
