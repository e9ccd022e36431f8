// Package ignore reads .emcheckignore files: one glob per line, matched
// against slash-separated paths relative to the scan root.
package ignore

import (
	"bufio"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is looked up at the root of every directory scan.
const FileName = ".emcheckignore"

// Matcher holds the patterns of one ignore file. The zero value matches nothing.
type Matcher struct {
	patterns []string
}

// Load parses the ignore file at p. Blank lines and lines starting with '#'
// are skipped. A trailing '/' ignores a directory and everything below it.
func Load(p string) (Matcher, error) {
	f, err := os.Open(p)
	if err != nil {
		return Matcher{}, err
	}
	defer f.Close()

	var m Matcher
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "/")
		if strings.HasSuffix(line, "/") {
			line += "**"
		}
		m.patterns = append(m.patterns, line)
	}
	return m, sc.Err()
}

// Match reports whether rel, a slash-separated relative path, is ignored.
// Patterns without a slash match the base name at any depth.
func (m Matcher) Match(rel string) bool {
	rel = strings.TrimPrefix(rel, "./")
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(strings.TrimSuffix(p, "/**"), "/") {
			if ok, _ := doublestar.Match(p, path.Base(rel)); ok {
				return true
			}
			if strings.HasSuffix(p, "/**") {
				dir := strings.TrimSuffix(p, "/**")
				for _, seg := range strings.Split(path.Dir(rel), "/") {
					if ok, _ := doublestar.Match(dir, seg); ok {
						return true
					}
				}
			}
		}
	}
	return false
}

// Len returns the number of patterns.
func (m Matcher) Len() int { return len(m.patterns) }
