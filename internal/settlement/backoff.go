package settlement

import "time"

// Policy is the check schedule of the poll path.
type Policy struct {
	// ErrorLadder is the delay after the 1st, 2nd, ... consecutive failure;
	// the last step repeats.
	ErrorLadder []time.Duration
	// SuccessCooldown is the delay after a check that found the market open.
	SuccessCooldown time.Duration
	// FetchTimeout bounds each resolution query.
	FetchTimeout time.Duration
}

// DefaultPolicy returns the 15m..4h error ladder with a 4h success cooldown.
func DefaultPolicy() Policy {
	return Policy{
		ErrorLadder: []time.Duration{
			15 * time.Minute,
			30 * time.Minute,
			time.Hour,
			2 * time.Hour,
			4 * time.Hour,
		},
		SuccessCooldown: 4 * time.Hour,
		FetchTimeout:    15 * time.Second,
	}
}

// ErrorDelay returns the ladder step for the given failure count (>= 1).
func (p Policy) ErrorDelay(failures int) time.Duration {
	if len(p.ErrorLadder) == 0 {
		return p.SuccessCooldown
	}
	i := failures - 1
	if i < 0 {
		i = 0
	}
	if i >= len(p.ErrorLadder) {
		i = len(p.ErrorLadder) - 1
	}
	return p.ErrorLadder[i]
}

// GlobalBackoff is the process-wide rate-limit state. It is passed into and
// returned from every poll cycle.
type GlobalBackoff struct {
	NextRequestAt time.Time
	Failures      int
}

// Cooling reports whether outbound queries must wait at now.
func (g GlobalBackoff) Cooling(now time.Time) bool {
	return g.NextRequestAt.After(now)
}

// RateLimited escalates the global cooldown after a rate-limit response.
func (g GlobalBackoff) RateLimited(p Policy, now time.Time) GlobalBackoff {
	g.Failures++
	next := now.Add(p.ErrorDelay(g.Failures))
	if next.After(g.NextRequestAt) {
		g.NextRequestAt = next
	}
	return g
}

// Succeeded resets the global failure counter.
func (g GlobalBackoff) Succeeded() GlobalBackoff {
	g.Failures = 0
	return g
}
