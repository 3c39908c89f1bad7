package models

// RateLimitWindow tracks one Line's rolling send counters. Counters are
// reset when the wall-clock hour/day boundary is crossed, never early.
type RateLimitWindow struct {
	LineID      int64 `json:"line_id"`
	HourlySent  int   `json:"hourly_sent"`
	DailySent   int   `json:"daily_sent"`
	WindowStart int64 `json:"window_start"`  // start of the current hourly window
	LastResetAt int64 `json:"last_reset_at"` // start of the current daily window
}
