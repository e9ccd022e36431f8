package engine

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/redactyl/emcheck/internal/ignore"
	"go.uber.org/zap"
)

var dumpExts = map[string]bool{
	".har":  true,
	".http": true,
	".resp": true,
	".txt":  true,
}

// loadIgnore reads root/.emcheckignore when present.
func loadIgnore(root string) ignore.Matcher {
	m, _ := ignore.Load(filepath.Join(root, ignore.FileName))
	return m
}

// Walk reads every response dump under root and invokes handle for each
// transaction. A single file may be passed as root. Files that fail to parse
// or that match root/.emcheckignore are skipped.
func Walk(ctx context.Context, root string, log *zap.Logger, handle func(Transaction)) error {
	if log == nil {
		log = zap.NewNop()
	}
	ign := loadIgnore(root)
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if ctx != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		if d.IsDir() {
			if p != root && isDefaultDirExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if p != root && !dumpExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil || rel == "." {
			rel = filepath.Base(p)
		}
		rel = filepath.ToSlash(rel)
		if p != root && ign.Match(rel) {
			log.Debug("dump ignored", zap.String("path", rel))
			return nil
		}

		b, err := os.ReadFile(p)
		if err != nil {
			log.Warn("unreadable dump", zap.String("path", p), zap.Error(err))
			return nil
		}
		if isHAR(b) {
			txs, err := ReadHAR(bytes.NewReader(b), rel)
			if err != nil {
				log.Warn("invalid har", zap.String("path", p), zap.Error(err))
				return nil
			}
			for _, tx := range txs {
				handle(tx)
			}
			return nil
		}
		tx, err := ParseRawResponse(bytes.NewReader(b), rel)
		if err != nil {
			log.Warn("invalid response dump", zap.String("path", p), zap.Error(err))
			return nil
		}
		handle(tx)
		return nil
	})
}

// CountTargets estimates the number of dump files under root without parsing
// them. It backs the progress display.
func CountTargets(root string) (int, error) {
	info, err := os.Stat(root)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 1, nil
	}
	ign := loadIgnore(root)
	count := 0
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != root && isDefaultDirExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !dumpExts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		if rel, rerr := filepath.Rel(root, p); rerr == nil && ign.Match(filepath.ToSlash(rel)) {
			return nil
		}
		count++
		return nil
	})
	return count, nil
}
