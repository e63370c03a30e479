// Package memory provides an in-memory Store implementation, used in tests
// and as a reference for real backends.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kmikulski/libseries/series"
	"github.com/kmikulski/libseries/storage"
)

// Store implements storage.Store using in-memory maps.
type Store struct {
	mu         sync.RWMutex
	series     map[string]*series.Series               // key: series ID
	exceptions map[string]map[string]*series.Exception // key: series ID, then date key

	// Clock can be replaced in tests for deterministic timestamps.
	Clock func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		series:     make(map[string]*series.Series),
		exceptions: make(map[string]map[string]*series.Exception),
		Clock:      time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// getOwnedLocked returns the stored series iff it exists and belongs to
// ownerID. Caller holds at least the read lock.
func (s *Store) getOwnedLocked(ownerID, seriesID string) (*series.Series, error) {
	sr, ok := s.series[seriesID]
	if !ok || sr.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: series %s", series.ErrNotFound, seriesID)
	}
	return sr, nil
}

func (s *Store) GetSeries(_ context.Context, ownerID, seriesID string) (*series.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, err := s.getOwnedLocked(ownerID, seriesID)
	if err != nil {
		return nil, err
	}
	return sr.Clone(), nil
}

func (s *Store) ListSeries(_ context.Context, ownerID string) ([]*series.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*series.Series
	for _, sr := range s.series {
		if sr.OwnerID == ownerID {
			out = append(out, sr.Clone())
		}
	}
	return out, nil
}

func (s *Store) CreateSeries(_ context.Context, sr *series.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.series[sr.ID]; exists {
		return fmt.Errorf("%w: series %s already exists", series.ErrConflict, sr.ID)
	}

	now := s.now()
	sr.CreatedAt = now
	sr.UpdatedAt = now

	stored := sr.Clone()
	stored.Tags = nil // tags are written via ReplaceTags
	s.series[sr.ID] = stored
	return nil
}

func (s *Store) UpdateSeries(_ context.Context, sr *series.Series, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getOwnedLocked(sr.OwnerID, sr.ID)
	if err != nil {
		return err
	}
	if !existing.UpdatedAt.Equal(expectedUpdatedAt) {
		return fmt.Errorf("%w: series %s was modified concurrently", series.ErrConflict, sr.ID)
	}

	sr.CreatedAt = existing.CreatedAt
	sr.UpdatedAt = s.now()
	stored := sr.Clone()
	stored.Tags = series.CloneTags(existing.Tags)
	s.series[sr.ID] = stored
	return nil
}

func (s *Store) RestoreSeries(_ context.Context, sr *series.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getOwnedLocked(sr.OwnerID, sr.ID); err != nil {
		return err
	}
	s.series[sr.ID] = sr.Clone()
	return nil
}

func (s *Store) DeleteSeries(_ context.Context, ownerID, seriesID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getOwnedLocked(ownerID, seriesID); err != nil {
		return err
	}
	delete(s.series, seriesID)
	delete(s.exceptions, seriesID) // cascade
	return nil
}

func (s *Store) ReplaceTags(_ context.Context, ownerID, seriesID string, tags []series.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, err := s.getOwnedLocked(ownerID, seriesID)
	if err != nil {
		return err
	}
	sr.Tags = series.CloneTags(tags)
	return nil
}

func (s *Store) GetExceptions(_ context.Context, seriesID string, from, to time.Time) (map[string]*series.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*series.Exception)
	fromDate, toDate := series.DateOf(from), series.DateOf(to)
	for key, ex := range s.exceptions[seriesID] {
		d := series.DateOf(ex.Date)
		if d.Before(fromDate) || d.After(toDate) {
			continue
		}
		out[key] = ex.Clone()
	}
	return out, nil
}

func (s *Store) UpsertException(_ context.Context, ex *series.Exception) (*series.Exception, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.series[ex.SeriesID]; !exists {
		return nil, fmt.Errorf("%w: series %s", series.ErrNotFound, ex.SeriesID)
	}

	byDate, ok := s.exceptions[ex.SeriesID]
	if !ok {
		byDate = make(map[string]*series.Exception)
		s.exceptions[ex.SeriesID] = byDate
	}

	stored := ex.Clone()
	stored.Date = series.DateOf(ex.Date)
	byDate[series.DateKey(stored.Date)] = stored
	return stored.Clone(), nil
}

func (s *Store) DeleteException(_ context.Context, seriesID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := series.DateKey(date)
	byDate := s.exceptions[seriesID]
	if _, ok := byDate[key]; !ok {
		return fmt.Errorf("%w: no exception for %s on %s", series.ErrNotFound, seriesID, key)
	}
	delete(byDate, key)
	return nil
}
