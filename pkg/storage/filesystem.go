package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive keeps generated report files on local disk. Files are bucketed
// into month directories (2006-01/name) so retention sweeps walk a shallow,
// chronologically ordered tree.
type Archive struct {
	root string
}

// NewArchive ensures the root directory exists and returns a handle.
func NewArchive(root string) (*Archive, error) {
	if root == "" {
		root = "./reports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create report archive root: %w", err)
	}
	return &Archive{root: root}, nil
}

// Store writes the payload under the current month bucket and returns the
// relative path callers later hand to Open.
func (a *Archive) Store(name string, data []byte) (string, error) {
	rel := filepath.Join(time.Now().UTC().Format("2006-01"), filepath.Base(name))
	path, err := a.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create month bucket: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report file: %w", err)
	}
	return rel, nil
}

// Open returns a read-only handle for a stored report.
func (a *Archive) Open(rel string) (*os.File, error) {
	path, err := a.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	return f, nil
}

// Remove deletes a stored report; a missing file is not an error.
func (a *Archive) Remove(rel string) error {
	path, err := a.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove report file: %w", err)
	}
	return nil
}

// Sweep deletes report files older than maxAge and prunes emptied month
// buckets. Returns how many files were removed.
func (a *Archive) Sweep(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	buckets, err := os.ReadDir(a.root)
	if err != nil {
		return 0, fmt.Errorf("read archive root: %w", err)
	}
	for _, bucket := range buckets {
		if !bucket.IsDir() {
			continue
		}
		dir := filepath.Join(a.root, bucket.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return removed, fmt.Errorf("read month bucket: %w", err)
		}
		remaining := len(files)
		for _, f := range files {
			info, err := f.Info()
			if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				return removed, fmt.Errorf("sweep report file: %w", err)
			}
			removed++
			remaining--
		}
		if remaining == 0 {
			// Best-effort: a concurrent Store may have repopulated it.
			_ = os.Remove(dir)
		}
	}
	return removed, nil
}

// resolve maps a relative name to an absolute path, refusing anything that
// would escape the archive root.
func (a *Archive) resolve(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid report path %q", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid report path %q", rel)
	}
	return filepath.Join(a.root, clean), nil
}
