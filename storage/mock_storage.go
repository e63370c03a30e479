package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kmikulski/libseries/series"
)

// MockStore implements the Store interface for testing.
type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) GetSeries(ctx context.Context, ownerID, seriesID string) (*series.Series, error) {
	args := m.Called(ctx, ownerID, seriesID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*series.Series), args.Error(1)
}

func (m *MockStore) ListSeries(ctx context.Context, ownerID string) ([]*series.Series, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*series.Series), args.Error(1)
}

func (m *MockStore) CreateSeries(ctx context.Context, s *series.Series) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockStore) UpdateSeries(ctx context.Context, s *series.Series, expectedUpdatedAt time.Time) error {
	args := m.Called(ctx, s, expectedUpdatedAt)
	return args.Error(0)
}

func (m *MockStore) RestoreSeries(ctx context.Context, s *series.Series) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockStore) DeleteSeries(ctx context.Context, ownerID, seriesID string) error {
	args := m.Called(ctx, ownerID, seriesID)
	return args.Error(0)
}

func (m *MockStore) ReplaceTags(ctx context.Context, ownerID, seriesID string, tags []series.Tag) error {
	args := m.Called(ctx, ownerID, seriesID, tags)
	return args.Error(0)
}

func (m *MockStore) GetExceptions(ctx context.Context, seriesID string, from, to time.Time) (map[string]*series.Exception, error) {
	args := m.Called(ctx, seriesID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*series.Exception), args.Error(1)
}

func (m *MockStore) UpsertException(ctx context.Context, ex *series.Exception) (*series.Exception, error) {
	args := m.Called(ctx, ex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*series.Exception), args.Error(1)
}

func (m *MockStore) DeleteException(ctx context.Context, seriesID string, date time.Time) error {
	args := m.Called(ctx, seriesID, date)
	return args.Error(0)
}
