package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redactyl/emcheck/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "rules.tab")
	require.NoError(t, os.WriteFile(p, []byte("Fatal error:\tPHP\tMedium\tFirm\n"), 0644))

	store := rules.NewStore(nil)
	_, err := store.Load(context.Background(), rules.FileSource{Path: p})
	require.NoError(t, err)

	w, err := New(p, store, nil)
	require.NoError(t, err)
	w.SetDebounce(100 * time.Millisecond)

	results := make(chan error, 64)
	w.OnReload = func(_ *rules.Snapshot, err error) { results <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor := func(want func(error) bool) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case err := <-results:
				if want(err) {
					return
				}
			case <-deadline:
				t.Fatal("expected reload not observed")
			}
		}
	}

	// unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(p, []byte("ORA-\\d{5}\tOracle\tHigh\tFirm\n"), 0644))
	waitFor(func(err error) bool { return err == nil && store.Current().Rules()[0].RuleType == "Oracle" })
	assert.GreaterOrEqual(t, store.Current().Version, uint64(2))

	// a broken table keeps the previous snapshot
	require.NoError(t, os.WriteFile(p, []byte("# empty\n"), 0644))
	waitFor(func(err error) bool { return errors.Is(err, rules.ErrNoRules) })
	assert.Equal(t, "Oracle", store.Current().Rules()[0].RuleType)

	cancel()
	require.NoError(t, <-done)
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "rules.tab"), rules.NewStore(nil), nil)
	assert.Error(t, err)
}
