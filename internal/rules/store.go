package rules

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Store publishes the current rule snapshot. Readers call Current and keep
// the returned pointer for the duration of a scan.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	loadMu sync.Mutex
	log    *zap.Logger

	// OnSwap, when set before the first Load, is called after each publish.
	OnSwap func(*Snapshot)
}

// NewStore returns an empty Store. A nil logger is replaced by a no-op logger.
func NewStore(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log}
}

// Current returns the published snapshot, or nil before the first load.
func (s *Store) Current() *Snapshot { return s.cur.Load() }

// Load reads and parses src and publishes the result. On failure the current
// snapshot stays in place.
func (s *Store) Load(ctx context.Context, src Source) (*Snapshot, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open rules %s: %w", src, err)
	}
	defer rc.Close()
	snap, err := Parse(rc, src.String())
	if err != nil {
		return nil, fmt.Errorf("load rules %s: %w", src, err)
	}
	for _, w := range snap.Warnings {
		s.log.Warn("rule table warning", zap.String("source", src.String()), zap.Int("line", w.Line), zap.String("message", w.Message))
	}
	return s.Swap(snap), nil
}

// Swap publishes snap under the next version number and returns the
// published copy. snap itself is not modified.
func (s *Store) Swap(snap *Snapshot) *Snapshot {
	s.loadMu.Lock()
	var next uint64 = 1
	if prev := s.cur.Load(); prev != nil {
		next = prev.Version + 1
	}
	pub := snap.withVersion(next)
	s.cur.Store(pub)
	s.loadMu.Unlock()

	s.log.Info("rules loaded",
		zap.Uint64("version", pub.Version),
		zap.String("source", pub.Source),
		zap.String("digest", pub.Digest),
		zap.Int("rules", pub.Len()),
		zap.Int("warnings", len(pub.Warnings)),
	)
	if s.OnSwap != nil {
		s.OnSwap(pub)
	}
	return pub
}
