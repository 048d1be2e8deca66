package push

import "time"

// Config controls connection and reconnection of push channels.
type Config struct {
	// MaxAttempts bounds consecutive failed connection attempts before a
	// channel gives up and closes. Zero retries forever.
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
}

// DefaultConfig retries ten times, starting one second apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      10,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Ceiling bounds the reconnection delay when MaxDelay is not set.
const Ceiling = time.Hour

// Delay returns the wait before reconnection attempt n (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay, or at Ceiling when
// MaxDelay is not positive.
func (c Config) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	limit := c.MaxDelay
	if limit <= 0 {
		limit = Ceiling
	}
	d := c.BaseDelay
	for i := 1; i < n && d > 0 && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// Exhausted reports whether attempt n exceeds the retry budget.
func (c Config) Exhausted(n int) bool {
	return c.MaxAttempts > 0 && n > c.MaxAttempts
}
