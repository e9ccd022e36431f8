package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	xxhash "github.com/cespare/xxhash/v2"
)

// Entry describes one cached body.
type Entry struct {
	Key       string    `json:"key"`
	File      string    `json:"file"`
	Digest    string    `json:"digest"`
	Size      int       `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DB is the on-disk index of cached bodies, keyed by source (usually a URL).
type DB struct {
	Entries map[string]Entry `json:"entries"`
}

// Store keeps fetched rule tables on disk so a failed refresh can fall back
// to the last good copy.
type Store struct {
	dir string
	mu  sync.Mutex
}

const indexName = "index.json"

// DefaultDir returns $XDG_CACHE_HOME/emcheck or the platform user cache dir.
func DefaultDir() string {
	if base := os.Getenv("XDG_CACHE_HOME"); base != "" {
		return filepath.Join(base, "emcheck")
	}
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		return ""
	}
	return filepath.Join(base, "emcheck")
}

// New returns a Store rooted at dir. An empty dir disables caching.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Digest returns the 16 hex digit xxhash64 of b.
func Digest(b []byte) string {
	if len(b) == 0 {
		return "0000000000000000"
	}
	sum := xxhash.Sum64(b)
	var buf [16]byte
	const hex = "0123456789abcdef"
	for i := 15; i >= 0; i-- {
		buf[i] = hex[sum&0xF]
		sum >>= 4
	}
	return string(buf[:])
}

func (s *Store) load() (DB, error) {
	var db DB
	f, err := os.ReadFile(filepath.Join(s.dir, indexName))
	if err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if err := json.Unmarshal(f, &db); err != nil {
		return DB{Entries: map[string]Entry{}}, err
	}
	if db.Entries == nil {
		db.Entries = map[string]Entry{}
	}
	return db, nil
}

func (s *Store) save(db DB) error {
	if db.Entries == nil {
		return errors.New("empty cache")
	}
	b, _ := json.MarshalIndent(db, "", "  ")
	return os.WriteFile(filepath.Join(s.dir, indexName), b, 0644)
}

// Put stores data under key and records it in the index.
func (s *Store) Put(key string, data []byte) (Entry, error) {
	if s == nil || s.dir == "" {
		return Entry{}, errors.New("cache disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Entry{}, err
	}
	db, _ := s.load()
	e := Entry{
		Key:       key,
		File:      Digest([]byte(key)) + ".tab",
		Digest:    Digest(data),
		Size:      len(data),
		FetchedAt: time.Now().UTC(),
	}
	if err := os.WriteFile(filepath.Join(s.dir, e.File), data, 0644); err != nil {
		return Entry{}, err
	}
	db.Entries[key] = e
	return e, s.save(db)
}

// Get returns the cached body for key. The digest is checked so a torn write
// is reported as a miss.
func (s *Store) Get(key string) ([]byte, Entry, error) {
	if s == nil || s.dir == "" {
		return nil, Entry{}, errors.New("cache disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.load()
	if err != nil {
		return nil, Entry{}, err
	}
	e, ok := db.Entries[key]
	if !ok {
		return nil, Entry{}, os.ErrNotExist
	}
	b, err := os.ReadFile(filepath.Join(s.dir, e.File))
	if err != nil {
		return nil, Entry{}, err
	}
	if Digest(b) != e.Digest {
		return nil, Entry{}, errors.New("cache entry digest mismatch")
	}
	return b, e, nil
}

// Entries lists the index, for `rules fetch` output.
func (s *Store) Entries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(db.Entries))
	for _, e := range db.Entries {
		out = append(out, e)
	}
	return out, nil
}
