package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGet(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	// initial get should miss
	if _, _, err := s.Get("https://example.com/rules.tab"); err == nil {
		t.Fatalf("expected miss on empty cache")
	}
	e, err := s.Put("https://example.com/rules.tab", []byte("Fatal error:\tPHP\tMedium\tCertain\n"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, indexName)); err != nil {
		t.Fatalf("index not written: %v", err)
	}
	b, got, err := s.Get("https://example.com/rules.tab")
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if string(b) != "Fatal error:\tPHP\tMedium\tCertain\n" {
		t.Fatalf("unexpected body: %q", b)
	}
	if got.Digest != e.Digest || got.Size != len(b) {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestGet_DigestMismatch(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	e, err := s.Put("k", []byte("original"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, e.File), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get("k"); err == nil {
		t.Fatalf("expected digest mismatch")
	}
}

func TestDisabled(t *testing.T) {
	s := New("")
	if _, err := s.Put("k", []byte("x")); err == nil {
		t.Fatalf("expected error for disabled cache")
	}
}

func TestDigestStable(t *testing.T) {
	if Digest(nil) != "0000000000000000" {
		t.Fatalf("unexpected empty digest")
	}
	if Digest([]byte("a")) != Digest([]byte("a")) || len(Digest([]byte("a"))) != 16 {
		t.Fatalf("digest not stable")
	}
}
