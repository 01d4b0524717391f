package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donaldgifford/fleet-telemetry/internal/store"
)

func TestAggregator_Window(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 3, 15, 30, 0, 0, time.UTC)
	a := NewAggregator(store.NewMemoryStore(), WithAggregatorNowFunc(func() time.Time { return now }))

	from, to := a.Window()
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, now, to)

	a = NewAggregator(store.NewMemoryStore(),
		WithAggregatorNowFunc(func() time.Time { return now }),
		WithRefreshWindow(6*time.Hour),
	)
	from, _ = a.Window()
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), from)
}

func TestAggregator_Refresh(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		refreshErr error
		wantErr    bool
	}{
		{name: "success"},
		{name: "aggregates unavailable is tolerated", refreshErr: fmt.Errorf("probing: %w", store.ErrAggregatesUnavailable)},
		{name: "database failure", refreshErr: errors.New("deadlock detected"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newFlakyStore()
			s.refreshErr = tt.refreshErr
			a := NewAggregator(s,
				WithAggregatorNowFunc(func() time.Time { return t0 }),
				WithAggregatorLogger(quietLogger()),
			)

			err := a.Refresh(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "refreshing aggregates")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, t0, s.refreshedWindow[1])
		})
	}
}
