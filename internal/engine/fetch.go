package engine

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FetchOptions bound the politeness and size of live fetches.
type FetchOptions struct {
	RPS       float64
	Burst     int
	Timeout   time.Duration
	Threads   int
	MaxBytes  int64
	UserAgent string
	Client    *http.Client
	Logger    *zap.Logger
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.RPS <= 0 {
		o.RPS = 5
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Threads <= 0 {
		o.Threads = 4
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.UserAgent == "" {
		o.UserAgent = "emcheck"
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Fetch issues a GET for each URL under a shared rate limit and returns the
// responses in input order. URLs that fail are logged and left out; only
// cancellation of ctx is returned as an error.
func Fetch(ctx context.Context, urls []string, opts FetchOptions) ([]Transaction, error) {
	opts = opts.withDefaults()
	lim := rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)

	got := make([]*Transaction, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Threads)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if err := lim.Wait(gctx); err != nil {
				return err
			}
			tx, err := fetchOne(gctx, u, opts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				opts.Logger.Warn("fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			got[i] = &tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(urls))
	for _, tx := range got {
		if tx != nil {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func fetchOne(ctx context.Context, u string, opts FetchOptions) (Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Transaction{}, err
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	resp, err := opts.Client.Do(req)
	if err != nil {
		return Transaction{}, err
	}
	defer resp.Body.Close()
	// the transport already decodes gzip it negotiated itself
	enc := ""
	if !resp.Uncompressed {
		enc = resp.Header.Get("Content-Encoding")
	}
	body, err := readBody(resp.Body, enc, opts.MaxBytes)
	if err != nil {
		return Transaction{}, fmt.Errorf("%s: %w", u, err)
	}
	return Transaction{
		ID:     u,
		URL:    u,
		Method: http.MethodGet,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}
