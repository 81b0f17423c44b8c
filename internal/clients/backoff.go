package clients

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// ExponentialBackoffWithJitter returns a duration to sleep for based on the
// attempt number and the minimum and maximum durations.
// If the response is a 429 with a Retry-After header, that header determines
// the duration instead.
// Otherwise, the sleep duration is calculated as:
//
//	min * 2^(attemptNum)
//
// capped at max. A random jitter of at most 25% is added to the calculated
// duration, unless the calculated duration is >= max.
func ExponentialBackoffWithJitter(
	min, max time.Duration,
	attemptNum int,
	resp *http.Response,
) time.Duration {
	// based on go-retryablehttp's DefaultBackoff
	addJitter := func(duration time.Duration) time.Duration {
		jitter := SecondsToDuration(rand.Float64() * 0.25 * DurationToSeconds(duration))
		return duration + jitter
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if s, ok := resp.Header["Retry-After"]; ok {
			if sleep, err := strconv.ParseFloat(s[0], 64); err == nil {
				return addJitter(SecondsToDuration(sleep))
			}
		}
	}

	sleep := SecondsToDuration(math.Pow(2, float64(attemptNum)) * DurationToSeconds(min))
	sleep = addJitter(sleep)

	if sleep > max {
		sleep = max
	}
	return sleep
}
