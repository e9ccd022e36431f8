package engine

import (
	"mime"
	"net/url"
	"path"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxBytes is the largest body matched when Config.MaxBytes is unset.
const DefaultMaxBytes int64 = 4 << 20

var defaultExcludeDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
}

// binary media never carries an error page worth matching
var skippedMediaPrefixes = []string{"image/", "video/", "audio/", "font/"}

var skippedMediaTypes = map[string]bool{
	"application/octet-stream": true,
	"application/zip":          true,
	"application/gzip":         true,
	"application/pdf":          true,
	"application/wasm":         true,
	"application/x-protobuf":   true,
}

// skipped URL suffixes for requests whose response carries no content type
var defaultExcludeSuffixes = []string{
	".png", ".jpg", ".jpeg", ".gif", ".webp", ".ico",
	".woff", ".woff2", ".ttf", ".eot",
	".mp4", ".webm", ".mp3",
	".zip", ".gz", ".pdf", ".wasm",
}

func isDefaultDirExcluded(name string) bool {
	return defaultExcludeDirs[name] || strings.HasPrefix(name, ".git")
}

func skipContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	for _, p := range skippedMediaPrefixes {
		if strings.HasPrefix(mt, p) {
			// svg is text and may embed an error message
			return mt != "image/svg+xml"
		}
	}
	return skippedMediaTypes[mt]
}

func looksBinary(b []byte) bool {
	const sniff = 800
	n := sniff
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}

// urlPath returns the path component used for glob matching. Inputs that do
// not parse as absolute URLs, such as dump file names, are matched verbatim.
func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ReplaceAll(raw, "\\", "/")
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// allowedByGlobs reports whether the URL is in scope. Include globs are
// comma-separated and, if provided, act as a positive filter. Exclude globs
// are subtracted last. Globs match the URL path with doublestar semantics.
func allowedByGlobs(rawURL string, cfg Config) bool {
	p := urlPath(rawURL)
	includes := parseGlobsList(cfg.IncludeGlobs)
	excludes := parseGlobsList(cfg.ExcludeGlobs)
	if len(includes) > 0 && !matchAnyGlob(p, includes) {
		return false
	}
	if len(excludes) > 0 && matchAnyGlob(p, excludes) {
		return false
	}
	return true
}

func hasExcludedSuffix(rawURL string) bool {
	lower := strings.ToLower(urlPath(rawURL))
	for _, s := range defaultExcludeSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func parseGlobsList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p, trimGlobPrefix(p))
		}
	}
	return out
}

func matchAnyGlob(p string, globs []string) bool {
	trimmed := strings.TrimPrefix(p, "/")
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, p); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, trimmed); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, path.Base(p)); ok {
			return true
		}
	}
	return false
}

func trimGlobPrefix(g string) string {
	s := strings.TrimPrefix(g, "./")
	s = strings.TrimPrefix(s, "/")
	for strings.HasPrefix(s, "**/") {
		s = strings.TrimPrefix(s, "**/")
	}
	return s
}
