package dealer

import "time"

// Clock abstracts time so the core never reads the wall clock directly.
// Expirations, withdrawal time locks and funding bounds all derive from it,
// which keeps replays and tests deterministic.
type Clock interface {
	Now() time.Time
}

// WallClock is the production clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }
