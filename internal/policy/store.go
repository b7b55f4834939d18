package policy

import (
	"context"
	"log/slog"
	"sync"
)

// Store holds the active policy set and swaps it atomically on reload.
// Readers always see one complete set.
type Store struct {
	mu     sync.RWMutex
	set    *Set
	source Source
	logger *slog.Logger
}

// NewStore creates a store seeded with set. A nil set starts empty.
func NewStore(set *Set, source Source, logger *slog.Logger) *Store {
	if set == nil {
		set = Empty()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{set: set, source: source, logger: logger.With("component", "policy-store")}
}

// Current returns the active policy set.
func (s *Store) Current() *Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set
}

// Replace installs set as the active policy set.
func (s *Store) Replace(set *Set) {
	if set == nil {
		set = Empty()
	}
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
}

// Reload reads the store's source and installs the result. On error the
// previous set stays active.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	set, err := s.source.Load(ctx)
	if err != nil {
		s.logger.Error("policy reload failed", "source", s.source.String(), "error", err)
		return err
	}
	s.Replace(set)
	s.logger.Info("policies loaded", "source", s.source.String(), "count", set.Len())
	return nil
}
