package amgcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Store persists cache entries by slice.
type Store interface {
	// Get returns the entry of slice or ErrCacheMiss.
	Get(ctx context.Context, slice int) (*Entry, error)
	// Put stores e, replacing any entry of the same slice.
	Put(ctx context.Context, e *Entry) error
	// Slices returns the cached slices in ascending order.
	Slices(ctx context.Context) ([]int, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
	Close() error
}

// DefaultMemoryStoreSize is the number of entries kept by a MemoryStore of size 0.
const DefaultMemoryStoreSize = 1024

// MemoryStore keeps the most recently used entries in memory.
type MemoryStore struct {
	entries *lru.Cache[int, *Entry]
}

// NewMemoryStore returns a store holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	entries, err := lru.New[int, *Entry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, slice int) (*Entry, error) {
	e, ok := s.entries.Get(slice)
	if !ok {
		return nil, ErrCacheMiss
	}
	return e, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.entries.Add(e.Slice, e)
	return nil
}

// Slices implements Store.
func (s *MemoryStore) Slices(ctx context.Context) ([]int, error) {
	keys := s.entries.Keys()
	slices.Sort(keys)
	return keys, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.entries.Purge()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

var stateFile = regexp.MustCompile(`^state-(\d+)\.bson$`)

// DirStore keeps one BSON file per slice in a directory. Files already present when the store
// is opened are served as cached entries.
type DirStore struct {
	mu     sync.Mutex
	dir    string
	slices map[int]struct{}
}

// NewDirStore opens or creates the cache directory.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %q", dir)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	s := &DirStore{dir: dir, slices: map[int]struct{}{}}
	for _, f := range files {
		match := stateFile.FindStringSubmatch(f.Name())
		if f.IsDir() || match == nil {
			continue
		}
		slice, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		s.slices[slice] = struct{}{}
	}
	return s, nil
}

func (s *DirStore) path(slice int) string {
	return filepath.Join(s.dir, fmt.Sprintf("state-%d.bson", slice))
}

// Get implements Store.
func (s *DirStore) Get(ctx context.Context, slice int) (*Entry, error) {
	s.mu.Lock()
	_, ok := s.slices[slice]
	s.mu.Unlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	//nolint:gosec
	data, err := os.ReadFile(s.path(slice))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return Unmarshal(data)
}

// Put implements Store. The file is written next to its destination and renamed into place.
func (s *DirStore) Put(ctx context.Context, e *Entry) error {
	data, err := Marshal(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".state-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return multierr.Combine(err, tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return multierr.Combine(err, os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), s.path(e.Slice)); err != nil {
		return multierr.Combine(err, os.Remove(tmp.Name()))
	}
	s.mu.Lock()
	s.slices[e.Slice] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Slices implements Store.
func (s *DirStore) Slices(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.slices))
	for slice := range s.slices {
		out = append(out, slice)
	}
	slices.Sort(out)
	return out, nil
}

// Clear implements Store.
func (s *DirStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs error
	for slice := range s.slices {
		if err := os.Remove(s.path(slice)); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
			continue
		}
		delete(s.slices, slice)
	}
	return errs
}

// Close implements Store.
func (s *DirStore) Close() error {
	return nil
}
