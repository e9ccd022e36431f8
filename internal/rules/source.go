package rules

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/redactyl/emcheck/internal/cache"
	"go.uber.org/zap"
)

// DefaultRulesURL is the upstream location of the error message rule table.
const DefaultRulesURL = "https://raw.githubusercontent.com/augustd/burp-suite-error-message-checks/master/src/burp/match-rules.tab"

//go:embed default.tab
var defaultTable []byte

// Source yields the raw bytes of a rule table.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// FileSource reads a table from disk.
type FileSource struct{ Path string }

func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) { return os.Open(s.Path) }
func (s FileSource) String() string                                { return s.Path }

// BytesSource serves an in-memory table.
type BytesSource struct {
	Name string
	Data []byte
}

func (s BytesSource) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}
func (s BytesSource) String() string { return s.Name }

// DefaultSource returns the table compiled into the binary.
func DefaultSource() Source { return BytesSource{Name: "builtin", Data: defaultTable} }

// HTTPSource fetches a table over HTTP with bounded retries. When a cache is
// configured, successful bodies are stored and used as a fallback after the
// retries are exhausted.
type HTTPSource struct {
	URL       string
	Client    *http.Client
	Retries   int
	Backoff   time.Duration
	UserAgent string
	Cache     *cache.Store
	Logger    *zap.Logger
}

func (s HTTPSource) String() string { return s.URL }

func (s HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	retries := s.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		body, err := s.fetchOnce(ctx, client)
		if err == nil {
			if s.Cache != nil {
				if _, cerr := s.Cache.Put(s.URL, body); cerr != nil {
					log.Debug("rule table not cached", zap.String("url", s.URL), zap.Error(cerr))
				}
			}
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		lastErr = err
		log.Warn("rule table fetch failed", zap.String("url", s.URL), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(1<<(attempt-1))):
		}
	}

	if s.Cache != nil {
		if body, e, err := s.Cache.Get(s.URL); err == nil {
			log.Info("using cached rule table", zap.String("url", s.URL), zap.Time("fetched_at", e.FetchedAt))
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", s.URL, lastErr)
}

func (s HTTPSource) fetchOnce(ctx context.Context, client *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if s.UserAgent != "" {
		req.Header.Set("User-Agent", s.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxTableBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxTableBytes {
		return nil, fmt.Errorf("rule table exceeds %d bytes", MaxTableBytes)
	}
	return body, nil
}
