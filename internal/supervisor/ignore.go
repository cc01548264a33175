package supervisor

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// globFilter is one source of ignore globs: either the built-in
// target-directory default, or the contents of a single ignore file,
// scoped to the directory it was discovered in.
type globFilter struct {
	base     string
	patterns []string
}

func (f *globFilter) ignores(relPath string) bool {
	for _, pattern := range f.patterns {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
		// A pattern without a slash matches at any depth, mirroring
		// gitignore semantics (a bare "*.log" ignores every .log file,
		// not just ones at the ignore file's own directory level).
		if !strings.Contains(pattern, "/") {
			if matched, _ := doublestar.Match(pattern, filepath.Base(relPath)); matched {
				return true
			}
			if matched, _ := doublestar.Match("**/"+pattern, relPath); matched {
				return true
			}
		}
	}
	return false
}

// Filterer composes multiple independent glob filters and ignores a
// path if ANY of them ignores it. This is deliberately not
// first-match-wins: a path can be a child of several discovered ignore
// scopes (the project root's .gitignore, a nested build directory's own
// ignore file, an environment-provided list), and missing an ignore
// match in any one of them would mean watching files the user clearly
// doesn't want watched. First-match composition gets this wrong in
// nested layouts: it stops at the first ignore file whose scope
// contains the path, even when that file doesn't actually match it,
// and never consults the other applicable filters.
type Filterer struct {
	base    string
	filters []*globFilter
}

// defaultIgnoreGlobs covers the build output directory so a rebuild
// triggered by the supervisor itself doesn't re-trigger another reload.
var defaultIgnoreGlobs = []string{"target/**", "target"}

// NewFilterer builds a Filterer for baseDir. When ignoreChanges is true
// every path under baseDir is ignored (used for "--no-reload" style
// configurations where the daemon should never restart automatically).
// ignoreFiles is a list of gitignore-style files to layer on top of the
// built-in default.
func NewFilterer(baseDir string, ignoreFiles []string, ignoreChanges bool) (*Filterer, error) {
	if ignoreChanges {
		return &Filterer{
			base:    baseDir,
			filters: []*globFilter{{base: baseDir, patterns: []string{"**"}}},
		}, nil
	}

	filters := []*globFilter{{base: baseDir, patterns: defaultIgnoreGlobs}}

	for _, path := range ignoreFiles {
		patterns, err := readIgnoreFile(path)
		if err != nil {
			return nil, err
		}
		filters = append(filters, &globFilter{base: filepath.Dir(path), patterns: patterns})
	}

	return &Filterer{base: baseDir, filters: filters}, nil
}

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}

// Ignores reports whether path (absolute or base-relative) should be
// excluded from triggering a reload. It never errors: NewFilterer does
// not validate patterns, and a malformed glob pattern simply never
// matches.
func (f *Filterer) Ignores(path string) bool {
	for _, filter := range f.filters {
		rel, err := filepath.Rel(filter.base, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, "../") {
			// The path falls outside this filter's own scope; it
			// cannot match any of its patterns, so this filter passes
			// it through without objection.
			continue
		}
		if filter.ignores(rel) {
			return true
		}
	}
	return false
}
