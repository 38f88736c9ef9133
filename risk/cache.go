package risk

import "time"

// cached holds a value with its fetch time so callers can bound staleness
// per read instead of per cache. One decision cycle reads a single snapshot
// rather than re-fetching per sub-step.
type cached[T any] struct {
	value     T
	fetchedAt time.Time
}

func (c *cached[T]) get(now time.Time, maxAge time.Duration) (T, bool) {
	var zero T
	if c.fetchedAt.IsZero() || now.Sub(c.fetchedAt) > maxAge {
		return zero, false
	}
	return c.value, true
}

func (c *cached[T]) put(v T, now time.Time) {
	c.value = v
	c.fetchedAt = now
}
