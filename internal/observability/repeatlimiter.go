package observability

import (
	"crypto/md5"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// RepeatLimiter limits how often an identical message may be logged.
//
// Bulk runs can fail the same way for thousands of assets in a row; without
// a limit the log becomes one repeated line. The last time each message was
// allowed is tracked and repeats seen within minDuration are dropped.
//
// Memory usage is bounded with an LRU cache, so if many distinct messages
// are logged frequently, some repeats may still get through.
//
// A nil value allows all messages.
type RepeatLimiter struct {
	cache       *lru.Cache
	minDuration time.Duration

	// getNow allows stubbing out [time.Now] in tests.
	getNow func() time.Time
}

// NewRepeatLimiter returns a RepeatLimiter tracking up to size distinct
// messages and allowing each at most once per minDuration.
func NewRepeatLimiter(size int, minDuration time.Duration) (*RepeatLimiter, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}

	return &RepeatLimiter{
		cache:       cache,
		minDuration: minDuration,
		getNow:      time.Now,
	}, nil
}

// Allow returns true if the message should be logged, updating its last
// allowed time to now.
func (rl *RepeatLimiter) Allow(msg string) bool {
	if rl == nil {
		return true
	}

	h := md5.New()
	h.Write([]byte(msg))
	hash := string(h.Sum(nil))

	now := rl.getNow()
	if lastSent, inCache := rl.cache.Get(hash); inCache {
		if now.Sub(lastSent.(time.Time)) < rl.minDuration {
			return false
		}
	}

	rl.cache.Add(hash, now)
	return true
}
