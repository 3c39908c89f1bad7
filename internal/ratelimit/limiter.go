package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"whatsapp-hub/internal/models"
)

// LimitError reports which cap refused the send. Callers treat it as a
// soft failure: defer or skip the recipient, never retry here.
type LimitError struct {
	LineID int64
	Scope  string // burst, hourly or daily
	Cap    int
	Sent   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit reached for line %d: %d/%d sends in the %s window", e.LineID, e.Sent, e.Cap, e.Scope)
}

// WindowStore persists per-line counters so restarts keep the budget.
type WindowStore interface {
	GetWindow(lineID int64) (*models.RateLimitWindow, error)
	SaveWindow(window *models.RateLimitWindow) error
}

// Limiter gates every outbound send through a per-line budget. Counter
// updates are atomic per line: a line never exceeds its cap even under
// concurrent sends.
type Limiter struct {
	store WindowStore
	clock func() time.Time

	mu     sync.Mutex
	locks  map[int64]*sync.Mutex
	bursts map[int64][]time.Time
}

// NewLimiter builds a limiter on top of a window store.
func NewLimiter(store WindowStore) *Limiter {
	return &Limiter{
		store:  store,
		clock:  time.Now,
		locks:  make(map[int64]*sync.Mutex),
		bursts: make(map[int64][]time.Time),
	}
}

// SetClock overrides the time source for deterministic tests.
func (l *Limiter) SetClock(clock func() time.Time) {
	l.clock = clock
}

// Allow checks the line's budget and, when available, consumes one send.
// All caps at zero means unbounded. Stale counters are reset when the
// wall-clock hour/day boundary has been crossed since the window start;
// counters are never reset early.
func (l *Limiter) Allow(line *models.Line) error {
	if line == nil {
		return fmt.Errorf("ratelimit: line is nil")
	}
	if line.BurstCap <= 0 && line.HourlyCap <= 0 && line.DailyCap <= 0 {
		return nil
	}

	lock := l.lineLock(line.ID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock()

	if line.BurstCap > 0 {
		if err := l.checkBurst(line, now); err != nil {
			return err
		}
	}

	window, err := l.store.GetWindow(line.ID)
	if err != nil {
		return fmt.Errorf("ratelimit: load window for line %d: %w", line.ID, err)
	}
	if window == nil {
		window = &models.RateLimitWindow{
			LineID:      line.ID,
			WindowStart: startOfHour(now).Unix(),
			LastResetAt: startOfDay(now).Unix(),
		}
	}

	resetStale(window, now)

	if line.HourlyCap > 0 && window.HourlySent >= line.HourlyCap {
		return &LimitError{LineID: line.ID, Scope: "hourly", Cap: line.HourlyCap, Sent: window.HourlySent}
	}
	if line.DailyCap > 0 && window.DailySent >= line.DailyCap {
		return &LimitError{LineID: line.ID, Scope: "daily", Cap: line.DailyCap, Sent: window.DailySent}
	}

	window.HourlySent++
	window.DailySent++
	if err := l.store.SaveWindow(window); err != nil {
		return fmt.Errorf("ratelimit: save window for line %d: %w", line.ID, err)
	}

	if line.BurstCap > 0 {
		l.recordBurst(line.ID, now)
	}

	return nil
}

// Budget returns the remaining sends for the line without consuming one,
// the minimum over the same caps Allow enforces. A negative value means
// unbounded.
func (l *Limiter) Budget(line *models.Line) (int, error) {
	if line == nil {
		return 0, fmt.Errorf("ratelimit: line is nil")
	}
	if line.BurstCap <= 0 && line.HourlyCap <= 0 && line.DailyCap <= 0 {
		return -1, nil
	}

	lock := l.lineLock(line.ID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock()

	window, err := l.store.GetWindow(line.ID)
	if err != nil {
		return 0, err
	}
	if window == nil {
		window = &models.RateLimitWindow{LineID: line.ID}
	}
	resetStale(window, now)

	remaining := -1
	if line.BurstCap > 0 {
		burst := line.BurstCap - l.burstCount(line.ID, now)
		remaining = burst
	}
	if line.HourlyCap > 0 {
		hourly := line.HourlyCap - window.HourlySent
		if remaining < 0 || hourly < remaining {
			remaining = hourly
		}
	}
	if line.DailyCap > 0 {
		daily := line.DailyCap - window.DailySent
		if remaining < 0 || daily < remaining {
			remaining = daily
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Limiter) lineLock(lineID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[lineID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[lineID] = lock
	}
	return lock
}

// checkBurst fails when the rolling burst cap is already spent. Burst
// state is in-memory only.
func (l *Limiter) checkBurst(line *models.Line, now time.Time) error {
	recent := l.burstCount(line.ID, now)
	if recent >= line.BurstCap {
		return &LimitError{LineID: line.ID, Scope: "burst", Cap: line.BurstCap, Sent: recent}
	}
	return nil
}

// burstCount prunes send timestamps older than a minute and returns how
// many remain.
func (l *Limiter) burstCount(lineID int64, now time.Time) int {
	cutoff := now.Add(-time.Minute)
	recent := l.bursts[lineID][:0]
	for _, ts := range l.bursts[lineID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	l.bursts[lineID] = recent
	return len(recent)
}

func (l *Limiter) recordBurst(lineID int64, now time.Time) {
	l.bursts[lineID] = append(l.bursts[lineID], now)
}

// resetStale zeroes counters whose wall-clock boundary was crossed.
func resetStale(window *models.RateLimitWindow, now time.Time) {
	hourStart := startOfHour(now)
	if window.WindowStart == 0 || time.Unix(window.WindowStart, 0).Before(hourStart) {
		window.HourlySent = 0
		window.WindowStart = hourStart.Unix()
	}

	dayStart := startOfDay(now)
	if window.LastResetAt == 0 || time.Unix(window.LastResetAt, 0).Before(dayStart) {
		window.DailySent = 0
		window.LastResetAt = dayStart.Unix()
	}
}

func startOfHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
