package engine

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kmikulski/libseries/series"
)

// MockConflictDetector implements ConflictDetector for testing.
type MockConflictDetector struct {
	mock.Mock
}

var _ ConflictDetector = (*MockConflictDetector)(nil)

func (m *MockConflictDetector) Overlapping(ctx context.Context, ownerID string, start, end time.Time) ([]series.Occurrence, error) {
	args := m.Called(ctx, ownerID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]series.Occurrence), args.Error(1)
}
