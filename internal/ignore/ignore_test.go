package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIgnoreMatch(t *testing.T) {
	dir := t.TempDir()
	ig := filepath.Join(dir, FileName)
	content := "archive/\n*.resp\n# comment\n\nstaging/login.http\n**/healthz*.http\n"
	if err := os.WriteFile(ig, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(ig)
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 4 {
		t.Fatalf("expected 4 patterns, got %d", m.Len())
	}
	cases := map[string]bool{
		"archive/2024/a.http":     true,
		"old/archive/b.http":      true,
		"dumps/x.resp":            true,
		"staging/login.http":      true,
		"prod/login.http":         false,
		"svc/healthz-200.http":    true,
		"captures/checkout.har":   false,
		"./staging/login.http":    true,
		"archived/notreally.http": false,
	}
	for p, want := range cases {
		if got := m.Match(p); got != want {
			t.Fatalf("Match(%q)=%v want %v", p, got, want)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), FileName))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if m.Match("anything.http") {
		t.Fatal("zero matcher must not match")
	}
}
