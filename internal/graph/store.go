package graph

import (
	"errors"
	"sync/atomic"
)

// ErrUnavailable is returned when no snapshot has ever been loaded.
var ErrUnavailable = errors.New("no capability graph loaded")

// Store holds the current graph snapshot behind an atomic pointer.
// Readers never block and never observe a torn snapshot; a reload swaps
// the pointer, and readers holding the old snapshot keep working until
// they release it.
type Store struct {
	current atomic.Pointer[Graph]
}

// NewStore returns an empty store. Current returns ErrUnavailable until
// the first successful Load.
func NewStore() *Store {
	return &Store{}
}

// Load parses and installs a snapshot from the given file.
// On failure the previous snapshot (if any) stays installed.
func (s *Store) Load(path string) (*Graph, error) {
	g, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(g)
	return g, nil
}

// Install swaps in an already-parsed snapshot.
func (s *Store) Install(g *Graph) {
	s.current.Store(g)
}

// Current returns the last successfully loaded snapshot. Never blocks.
func (s *Store) Current() (*Graph, error) {
	g := s.current.Load()
	if g == nil {
		return nil, ErrUnavailable
	}
	return g, nil
}

// Reload is Load under its enforcement-facing name: an atomic swap that
// in-flight readers of the old snapshot never notice.
func (s *Store) Reload(path string) (*Graph, error) {
	return s.Load(path)
}
