// Package catalog owns the coin catalog: the ordered list of upstream coins used to
// resolve a human-readable name to a CoinGecko id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"coin-price-proxy/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by Resolve when no catalog entry has the requested name.
var ErrNotFound = errors.New("coin not found in catalog")

// DefaultRefreshTimeout bounds a refresh independently of the callers waiting on it.
const DefaultRefreshTimeout = 60 * time.Second

// Fetcher loads the full catalog from upstream.
type Fetcher interface {
	ListCoins(ctx context.Context) ([]models.CoinEntry, error)
}

// Persister keeps a durable copy of the catalog. Save overwrites the whole copy.
// Load returns an empty slice when nothing has been saved yet.
type Persister interface {
	Load(ctx context.Context) ([]models.CoinEntry, error)
	Save(ctx context.Context, entries []models.CoinEntry) error
}

// snapshot is never mutated after it is published.
type snapshot struct {
	entries     []models.CoinEntry
	byName      map[string]int
	refreshedAt time.Time
}

func newSnapshot(entries []models.CoinEntry, at time.Time) *snapshot {
	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		key := normalize(e.Name)
		// First match in catalog order wins.
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}
	return &snapshot{entries: entries, byName: byName, refreshedAt: at}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Store resolves coin names against the current catalog snapshot.
type Store struct {
	fetcher   Fetcher
	persister Persister
	logger    *zap.Logger

	// refreshTimeout bounds one upstream fetch plus the persist that follows it.
	refreshTimeout time.Duration

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// NewStore creates an empty catalog store. persister may be nil.
func NewStore(fetcher Fetcher, persister Persister, logger *zap.Logger) *Store {
	s := &Store{
		fetcher:   fetcher,
		persister: persister,
		logger:    logger.Named("catalog"),

		refreshTimeout: DefaultRefreshTimeout,
	}
	s.current.Store(newSnapshot(nil, time.Time{}))
	return s
}

// Load installs the durable copy of the catalog, if there is one.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	entries, err := s.persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Info("No stored catalog found, it will be fetched on first lookup")
		return nil
	}
	s.current.Store(newSnapshot(entries, time.Now()))
	s.logger.Info("Loaded stored catalog", zap.Int("count", len(entries)))
	return nil
}

// Resolve returns the first entry whose name matches name, ignoring case.
// An empty catalog is refreshed once before searching.
func (s *Store) Resolve(ctx context.Context, name string) (models.CoinEntry, error) {
	snap := s.current.Load()
	if len(snap.entries) == 0 {
		var err error
		if snap, err = s.refresh(ctx); err != nil {
			return models.CoinEntry{}, err
		}
	}

	idx, ok := snap.byName[normalize(name)]
	if !ok {
		return models.CoinEntry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return snap.entries[idx], nil
}

// Refresh replaces the catalog with a fresh copy from upstream and persists it.
// The returned slice is shared and must not be modified.
func (s *Store) Refresh(ctx context.Context) ([]models.CoinEntry, error) {
	snap, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return snap.entries, nil
}

// refresh collapses concurrent callers into a single upstream fetch. The flight runs
// detached from any one caller; each caller stops waiting when its own ctx ends.
func (s *Store) refresh(ctx context.Context) (*snapshot, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()

		start := time.Now()
		entries, err := s.fetcher.ListCoins(flightCtx)
		if err != nil {
			s.logger.Error("Catalog refresh failed", zap.Error(err))
			return nil, err
		}

		snap := newSnapshot(entries, time.Now())
		s.current.Store(snap)
		s.logger.Info("Catalog refreshed",
			zap.Int("count", len(entries)),
			zap.Duration("took", time.Since(start)),
		)

		if s.persister != nil {
			if err := s.persister.Save(flightCtx, entries); err != nil {
				// The in-memory catalog stays usable.
				s.logger.Warn("Failed to persist catalog", zap.Error(err))
			}
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("refresh catalog: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("refresh catalog: %w", res.Err)
		}
		if res.Shared {
			s.logger.Debug("Joined in-flight catalog refresh")
		}
		return res.Val.(*snapshot), nil
	}
}

// Entries returns the current catalog. The slice must not be modified.
func (s *Store) Entries() []models.CoinEntry {
	return s.current.Load().entries
}

// RefreshedAt reports when the current catalog was installed; zero if it is empty.
func (s *Store) RefreshedAt() time.Time {
	return s.current.Load().refreshedAt
}
