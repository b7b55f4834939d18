// Package allocator turns one-shot block iterators into resumable cursors
// addressed by opaque paging IDs.
package allocator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vectorgate/internal/metrics"
	"vectorgate/internal/vector"
)

// idBytes is the entropy of a paging ID.
const idBytes = 32

// DefaultTTL is the idle time after which a cursor is evicted.
const DefaultTTL = 10 * time.Minute

// Config controls cursor expiry.
type Config struct {
	// TTL is the maximum idle time of a cursor. Zero disables expiry.
	TTL time.Duration
	// SweepSchedule is the cron schedule of the eviction sweep, e.g. "@every 1m".
	// Empty disables the background sweep; expired cursors are still
	// evicted when touched.
	SweepSchedule string
}

// Page is the result of one fetch.
type Page struct {
	// Exists is false when the ID was unknown, expired or exhausted.
	Exists bool
	Block  *vector.Block
	// NextID addresses the rest of the stream. The ID used for the fetch is
	// no longer valid.
	NextID string
}

type cursor struct {
	it       vector.Iterator
	lastUsed time.Time
}

// Allocator owns open cursors. It is safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	cursors map[string]*cursor
	closed  bool
	cron    *cron.Cron

	ttl      time.Duration
	schedule string
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an allocator. m may be nil.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		cursors:  make(map[string]*cursor),
		ttl:      cfg.TTL,
		schedule: cfg.SweepSchedule,
		now:      time.Now,
		metrics:  m,
		logger:   logger.With("component", "allocator"),
	}
}

// Start schedules the background eviction sweep, if configured.
func (a *Allocator) Start() error {
	if a.schedule == "" || a.ttl <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(a.schedule, func() { a.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", a.schedule, err)
	}
	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()
	c.Start()
	a.logger.Info("cursor sweep started", "schedule", a.schedule, "ttl", a.ttl)
	return nil
}

// Allocate registers it and returns a fresh paging ID. No data is pulled.
func (a *Allocator) Allocate(it vector.Iterator) (string, error) {
	if it == nil {
		return "", errors.New("nil iterator")
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", errors.New("allocator closed")
	}
	a.cursors[id] = &cursor{it: it, lastUsed: a.now()}
	a.mu.Unlock()
	if a.metrics != nil {
		a.metrics.OpenCursors.Inc()
	}
	return id, nil
}

// Next pulls exactly one block from the cursor behind id. On success the
// cursor is re-keyed under Page.NextID. Unknown, expired and exhausted IDs
// yield a page with Exists false and no error.
//
// The cursor is checked out while the fetch runs, so a concurrent Next on
// the same ID sees it as unknown.
func (a *Allocator) Next(ctx context.Context, id string) (Page, error) {
	a.mu.Lock()
	c, ok := a.cursors[id]
	if !ok {
		a.mu.Unlock()
		return Page{}, nil
	}
	delete(a.cursors, id)
	expired := a.expired(c)
	a.mu.Unlock()

	if expired {
		a.release(c, true)
		return Page{}, nil
	}

	block, err := c.it.Next(ctx)
	if errors.Is(err, io.EOF) {
		a.release(c, false)
		return Page{}, nil
	}
	if err != nil {
		a.release(c, false)
		return Page{}, err
	}

	nextID, err := newID()
	if err != nil {
		a.release(c, false)
		return Page{}, err
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.release(c, false)
		return Page{Exists: true, Block: block}, nil
	}
	c.lastUsed = a.now()
	a.cursors[nextID] = c
	a.mu.Unlock()
	return Page{Exists: true, Block: block, NextID: nextID}, nil
}

// Release closes the cursor behind id, if any.
func (a *Allocator) Release(id string) {
	a.mu.Lock()
	c, ok := a.cursors[id]
	delete(a.cursors, id)
	a.mu.Unlock()
	if ok {
		a.release(c, false)
	}
}

// Len returns the number of idle cursors.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cursors)
}

// Sweep closes every expired cursor and returns how many were evicted.
func (a *Allocator) Sweep() int {
	a.mu.Lock()
	var expired []*cursor
	for id, c := range a.cursors {
		if a.expired(c) {
			expired = append(expired, c)
			delete(a.cursors, id)
		}
	}
	a.mu.Unlock()
	for _, c := range expired {
		a.release(c, true)
	}
	if len(expired) > 0 {
		a.logger.Info("evicted idle cursors", "count", len(expired))
	}
	return len(expired)
}

// Close stops the sweep and closes every cursor. Later Allocate calls fail.
func (a *Allocator) Close() error {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	a.mu.Lock()
	a.closed = true
	cursors := a.cursors
	a.cursors = make(map[string]*cursor)
	a.mu.Unlock()

	var errs []error
	for _, c := range cursors {
		if err := a.release(c, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expired must be called with a.mu held.
func (a *Allocator) expired(c *cursor) bool {
	return a.ttl > 0 && a.now().Sub(c.lastUsed) > a.ttl
}

func (a *Allocator) release(c *cursor, evicted bool) error {
	err := c.it.Close()
	if err != nil {
		a.logger.Warn("closing cursor failed", "error", err)
	}
	if a.metrics != nil {
		a.metrics.OpenCursors.Dec()
		if evicted {
			a.metrics.CursorEvictions.Inc()
		}
	}
	return err
}

func newID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate paging id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
