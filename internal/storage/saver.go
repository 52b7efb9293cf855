package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrOutsideRoot is returned for destinations that would escape the download directory
var ErrOutsideRoot = errors.New("destination escapes the download directory")

// Saved describes a file written by Save
type Saved struct {
	Handle int64
	Path   string // relative to the root, forward slashes
	Bytes  int64
}

// Saver writes downloaded payloads under a root directory. Each saved file gets an
// opaque handle that can later be resolved back to its location.
type Saver struct {
	root   string
	logger *logrus.Logger

	mu      sync.Mutex
	next    int64
	handles map[int64]string
}

// NewSaver creates the root directory if needed
func NewSaver(root string, logger *logrus.Logger) (*Saver, error) {
	if logger == nil {
		logger = logrus.New()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve download directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	return &Saver{
		root:    abs,
		logger:  logger,
		handles: make(map[int64]string),
	}, nil
}

// Root returns the absolute download directory
func (s *Saver) Root() string {
	return s.root
}

// Save writes data to rel (a slash separated path below the root). Missing directories
// are created, the file is written to a temporary name and renamed into place, and an
// existing file is never overwritten: "name.ext" becomes "name (1).ext" and so on.
func (s *Saver) Save(ctx context.Context, rel string, data []byte) (Saved, error) {
	if err := ctx.Err(); err != nil {
		return Saved{}, err
	}

	target, err := s.resolve(rel)
	if err != nil {
		return Saved{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return Saved{}, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".cassette-*.part")
	if err != nil {
		return Saved{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Saved{}, fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Saved{}, fmt.Errorf("failed to close temporary file: %w", err)
	}

	// Choosing the free name and renaming must not interleave between saves.
	s.mu.Lock()
	defer s.mu.Unlock()

	final := uniquePath(target)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return Saved{}, fmt.Errorf("failed to move file into place: %w", err)
	}

	s.next++
	s.handles[s.next] = final

	relFinal, _ := filepath.Rel(s.root, final)
	saved := Saved{Handle: s.next, Path: filepath.ToSlash(relFinal), Bytes: int64(len(data))}

	s.logger.WithFields(logrus.Fields{
		"path":   saved.Path,
		"handle": saved.Handle,
		"bytes":  saved.Bytes,
	}).Debug("File saved")
	return saved, nil
}

// Lookup returns the absolute path of a saved file
func (s *Saver) Lookup(handle int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.handles[handle]
	return p, ok
}

func (s *Saver) resolve(rel string) (string, error) {
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	full := filepath.Join(s.root, filepath.FromSlash(rel))
	r, err := filepath.Rel(s.root, full)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return full, nil
}

// uniquePath returns path, or the first "name (n).ext" variant that does not exist.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, index, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
