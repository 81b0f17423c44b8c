// Package clients builds the HTTP clients used to talk to the CSDA API.
package clients

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func DurationToSeconds(duration time.Duration) float64 {
	return float64(duration) / float64(time.Second)
}

// NewRetryClient returns a retryablehttp client configured by options.
func NewRetryClient(opts ...RetryClientOption) *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()

	for _, opt := range opts {
		opt(retryClient)
	}
	return retryClient
}

type RetryClientOption func(rc *retryablehttp.Client)

func WithRetryClientLogger(logger *observability.CoreLogger) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	}
}

func WithRetryClientRetryMax(retryMax int) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.RetryMax = retryMax
	}
}

func WithRetryClientRetryWaitMin(retryWaitMin time.Duration) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.RetryWaitMin = retryWaitMin
	}
}

func WithRetryClientRetryWaitMax(retryWaitMax time.Duration) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.RetryWaitMax = retryWaitMax
	}
}

func WithRetryClientHttpTimeout(timeout time.Duration) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.HTTPClient.Timeout = timeout
	}
}

func WithRetryClientRetryPolicy(retryPolicy retryablehttp.CheckRetry) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.CheckRetry = retryPolicy
	}
}

func WithRetryClientBackoff(backoff retryablehttp.Backoff) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.Backoff = backoff
	}
}

// CredentialProvider adds credentials to HTTP requests.
type CredentialProvider interface {
	// Apply sets the appropriate authorization headers on the request.
	Apply(req *http.Request) error
}

// WithCredentials wraps the client's transport so every request passes
// through the credential provider before being sent.
func WithCredentials(creds CredentialProvider) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.HTTPClient.Transport = &authedTransport{
			creds:   creds,
			wrapped: rc.HTTPClient.Transport,
		}
	}
}

// WithNoFollowRedirects makes the client return redirect responses to the
// caller instead of following them.
func WithNoFollowRedirects() RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// WithMaxRedirects bounds how many redirect hops the client will follow,
// so a misbehaving endpoint can't send it in circles.
func WithMaxRedirects(max int) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		rc.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= max {
				return fmt.Errorf("stopped after %d redirects", max)
			}
			return nil
		}
	}
}

// WithRequestRateLimit caps the number of requests per second across all
// users of the client. Zero or negative means no limit.
func WithRequestRateLimit(requestsPerSecond float64) RetryClientOption {
	return func(rc *retryablehttp.Client) {
		if requestsPerSecond <= 0 {
			return
		}
		rc.HTTPClient.Transport = &rateLimitedTransport{
			limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
			wrapped: rc.HTTPClient.Transport,
		}
	}
}

type authedTransport struct {
	creds   CredentialProvider
	wrapped http.RoundTripper
}

func (t *authedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.creds.Apply(req); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return t.wrapped.RoundTrip(req)
}

type rateLimitedTransport struct {
	limiter *rate.Limiter
	wrapped http.RoundTripper
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.wrapped.RoundTrip(req)
}

const userAgent = "csda-bulk-download"
