package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/danjacques/gofslock/fslock"

	"github.com/argusai/testrun-investigator/internal/models"
)

const (
	archiveFileName = "archive.tar.zst"
	lockFileName    = ".lock"
)

// Entry is a cached run: its archive and whichever log files were extracted.
type Entry struct {
	RunID          string
	ArchivePath    string
	ExtractedPaths map[models.Stream]string
	ModTime        time.Time
}

// Cache keeps one directory per run id under Root. Directories survive
// process restarts and are reused when their files are present and non-empty.
type Cache struct {
	Root string
}

// NewCache creates the cache root if needed.
func NewCache(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", root, err)
	}
	return &Cache{Root: root}, nil
}

// Dir returns the directory for runID.
func (c *Cache) Dir(runID string) string {
	return filepath.Join(c.Root, runID)
}

// ArchivePath returns where the run's archive is stored.
func (c *Cache) ArchivePath(runID string) string {
	return filepath.Join(c.Dir(runID), archiveFileName)
}

// HasArchive reports whether a non-empty archive is cached for runID.
func (c *Cache) HasArchive(runID string) bool {
	return nonEmpty(c.ArchivePath(runID))
}

// Lookup returns the cached entry for runID when at least one extracted log
// file is present and non-empty.
func (c *Cache) Lookup(runID string) (Entry, bool) {
	entry := Entry{
		RunID:          runID,
		ExtractedPaths: make(map[models.Stream]string, 2),
	}
	if c.HasArchive(runID) {
		entry.ArchivePath = c.ArchivePath(runID)
	}

	for _, s := range models.Streams() {
		p := filepath.Join(c.Dir(runID), s.Descriptor().FileName)
		if nonEmpty(p) {
			entry.ExtractedPaths[s] = p
		}
	}
	if len(entry.ExtractedPaths) == 0 {
		return Entry{}, false
	}

	if fi, err := os.Stat(c.Dir(runID)); err == nil {
		entry.ModTime = fi.ModTime()
	}
	return entry, true
}

// List returns all cached runs sorted by run id.
func (c *Cache) List() ([]Entry, error) {
	dirs, err := os.ReadDir(c.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var entries []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if e, ok := c.Lookup(d.Name()); ok {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.RunID, b.RunID)
	})
	return entries, nil
}

// WithRunLock runs fn while holding an exclusive file lock on the run's
// directory. It fails fast with ErrRunLocked if another worker, in this or
// another process, holds the lock.
func (c *Cache) WithRunLock(runID string, fn func() error) error {
	if err := os.MkdirAll(c.Dir(runID), 0o755); err != nil {
		return fmt.Errorf("create run cache dir: %w", err)
	}
	err := fslock.With(filepath.Join(c.Dir(runID), lockFileName), fn)
	if errors.Is(err, fslock.ErrLockHeld) {
		return fmt.Errorf("%w: %s", ErrRunLocked, runID)
	}
	return err
}

// Remove deletes the run's cached files and its directory.
func (c *Cache) Remove(runID string) error {
	err := c.WithRunLock(runID, func() error {
		entries, err := os.ReadDir(c.Dir(runID))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name() == lockFileName {
				continue
			}
			if err := os.RemoveAll(filepath.Join(c.Dir(runID), e.Name())); err != nil {
				return fmt.Errorf("remove %s: %w", e.Name(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(c.Dir(runID))
}

// DiscardArchive deletes the run's cached archive so the next ingest downloads
// it again. The caller must hold the run lock.
func (c *Cache) DiscardArchive(runID string) error {
	err := os.Remove(c.ArchivePath(runID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard archive: %w", err)
	}
	return nil
}

func nonEmpty(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}
