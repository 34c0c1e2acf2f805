package watch

import (
	"path"
	"strings"
)

// excludedDirs are directory names never watched or shipped: version
// control, dependencies, build and cache output, editor metadata.
var excludedDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "bower_components": true, "vendor": true,
	".venv": true, "venv": true, "__pycache__": true,
	"dist": true, "build": true, "out": true, "coverage": true,
	".next": true, ".nuxt": true, ".svelte-kit": true, ".output": true,
	".cache": true, ".turbo": true, ".parcel-cache": true, ".vercel": true,
	".idea": true, ".vscode": true,
}

// excludedFiles are exact file names never shipped.
var excludedFiles = map[string]bool{
	".DS_Store":         true,
	"Thumbs.db":         true,
	"desktop.ini":       true,
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"npm-debug.log":     true,
}

// excludedSuffixes are file extensions never shipped: logs, source maps,
// lock files and editor swap files.
var excludedSuffixes = []string{
	".log", ".map", ".lock", ".swp", ".swo", ".tmp", "~",
}

// Matcher classifies project-relative paths as excluded or included. The
// built-in patterns always apply; extra glob patterns from configuration
// can only add exclusions. A Matcher is immutable and safe for concurrent use.
type Matcher struct {
	extraDirs  []string
	extraFiles []string
}

// NewMatcher returns a Matcher with the built-in patterns plus the given
// extra directory and file globs (path.Match syntax, matched per component).
func NewMatcher(extraDirs, extraFiles []string) *Matcher {
	return &Matcher{
		extraDirs:  append([]string(nil), extraDirs...),
		extraFiles: append([]string(nil), extraFiles...),
	}
}

// IsExcluded reports whether relPath (forward-slash separated, relative to
// the project root) must be ignored. A path is excluded when any component
// is an excluded directory or its base name is an excluded file.
func (m *Matcher) IsExcluded(relPath string) bool {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" || relPath == "." {
		return false
	}

	parts := strings.Split(relPath, "/")
	for _, part := range parts {
		if m.isExcludedDir(part) {
			return true
		}
	}

	return m.isExcludedFile(parts[len(parts)-1])
}

func (m *Matcher) isExcludedDir(name string) bool {
	if excludedDirs[name] {
		return true
	}

	return matchAny(m.extraDirs, name)
}

func (m *Matcher) isExcludedFile(name string) bool {
	if excludedFiles[name] {
		return true
	}

	lower := strings.ToLower(name)
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	// Emacs lock and autosave files.
	if strings.HasPrefix(name, ".#") || (strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")) {
		return true
	}

	return matchAny(m.extraFiles, name)
}

// matchAny reports whether name matches any glob. Malformed patterns were
// rejected by config validation and never match here.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}

	return false
}
