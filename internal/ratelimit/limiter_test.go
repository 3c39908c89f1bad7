package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore keeps windows in a map, mirroring the repository contract.
type memoryStore struct {
	mu      sync.Mutex
	windows map[int64]*models.RateLimitWindow
}

func newMemoryStore() *memoryStore {
	return &memoryStore{windows: make(map[int64]*models.RateLimitWindow)}
}

func (s *memoryStore) GetWindow(lineID int64) (*models.RateLimitWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window, ok := s.windows[lineID]
	if !ok {
		return nil, nil
	}
	copied := *window
	return &copied, nil
}

func (s *memoryStore) SaveWindow(window *models.RateLimitWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *window
	s.windows[window.LineID] = &copied
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestLimiterUnlimitedWhenNoCaps(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	line := &models.Line{ID: 1}

	for i := 0; i < 100; i++ {
		assert.NoError(t, limiter.Allow(line))
	}
}

func TestLimiterHourlyCap(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, HourlyCap: 2}

	require.NoError(t, limiter.Allow(line))
	require.NoError(t, limiter.Allow(line))

	err := limiter.Allow(line)
	require.Error(t, err)

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, "hourly", limitErr.Scope)
	assert.Equal(t, 2, limitErr.Cap)
}

func TestLimiterHourlyResetOnBoundary(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 59, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, HourlyCap: 1}
	require.NoError(t, limiter.Allow(line))
	require.Error(t, limiter.Allow(line))

	// Crossing the hour boundary resets the hourly counter
	limiter.SetClock(fixedClock(now.Add(2 * time.Minute)))
	assert.NoError(t, limiter.Allow(line))
}

func TestLimiterDailyCapSurvivesHourlyReset(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, DailyCap: 2}
	require.NoError(t, limiter.Allow(line))
	require.NoError(t, limiter.Allow(line))

	// New hour, same day: daily counter still applies
	limiter.SetClock(fixedClock(now.Add(time.Hour)))
	err := limiter.Allow(line)
	require.Error(t, err)

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, "daily", limitErr.Scope)

	// Next day the daily counter resets
	limiter.SetClock(fixedClock(now.Add(24 * time.Hour)))
	assert.NoError(t, limiter.Allow(line))
}

func TestLimiterBurstCap(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, BurstCap: 3}
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(line))
	}

	err := limiter.Allow(line)
	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, "burst", limitErr.Scope)

	// After the rolling minute passes the burst budget recovers
	limiter.SetClock(fixedClock(now.Add(61 * time.Second)))
	assert.NoError(t, limiter.Allow(line))
}

func TestLimiterMinOverCaps(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, HourlyCap: 5, DailyCap: 2}

	require.NoError(t, limiter.Allow(line))
	require.NoError(t, limiter.Allow(line))
	require.Error(t, limiter.Allow(line), "daily cap binds before the hourly one")
}

func TestLimiterBudget(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	unlimited := &models.Line{ID: 9}
	budget, err := limiter.Budget(unlimited)
	require.NoError(t, err)
	assert.Equal(t, -1, budget)

	line := &models.Line{ID: 1, HourlyCap: 3}
	require.NoError(t, limiter.Allow(line))

	budget, err = limiter.Budget(line)
	require.NoError(t, err)
	assert.Equal(t, 2, budget)
}

func TestLimiterBudgetCountsBurstWindow(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	line := &models.Line{ID: 1, BurstCap: 2, HourlyCap: 10}
	require.NoError(t, limiter.Allow(line))

	budget, err := limiter.Budget(line)
	require.NoError(t, err)
	assert.Equal(t, 1, budget, "the burst window is the tightest cap")

	// Once the minute rolls over, the hourly window binds again.
	limiter.SetClock(fixedClock(now.Add(2 * time.Minute)))
	budget, err = limiter.Budget(line)
	require.NoError(t, err)
	assert.Equal(t, 2, budget)
}

func TestLimiterConcurrentSendsNeverExceedCap(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	line := &models.Line{ID: 1, HourlyCap: 10}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Allow(line); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestLimiterSeparateLinesIndependent(t *testing.T) {
	limiter := NewLimiter(newMemoryStore())
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limiter.SetClock(fixedClock(now))

	first := &models.Line{ID: 1, HourlyCap: 1}
	second := &models.Line{ID: 2, HourlyCap: 1}

	require.NoError(t, limiter.Allow(first))
	require.Error(t, limiter.Allow(first))
	assert.NoError(t, limiter.Allow(second))
}
