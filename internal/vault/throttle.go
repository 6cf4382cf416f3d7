package vault

import (
	"time"

	"golang.org/x/time/rate"
)

// throttle bounds unlock and reset attempts before any KDF work runs.
// A 6-digit PIN has only 10^6 candidates; the KDF cost is the primary
// defense and this limiter keeps an on-device brute force from even
// reaching it at full speed.
type throttle struct {
	lim *rate.Limiter
}

func newThrottle(interval time.Duration, burst int) *throttle {
	if interval <= 0 {
		interval = time.Second
	}
	if burst <= 0 {
		burst = 20
	}
	return &throttle{lim: rate.NewLimiter(rate.Every(interval), burst)}
}

func (t *throttle) allow() bool { return t.lim.Allow() }
