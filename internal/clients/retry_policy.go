package clients

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryTransientFailures is a retry policy that retries server (5xx)
// errors, rate limiting (429), and connection problems, but never client
// (4xx) errors.
//
// A 4xx from the CSDA API is a real answer about this request: bad
// credentials, a revoked download grant, an unknown asset. Retrying it
// can't succeed and, because each asset is granted for download only once,
// re-requesting may even consume the grant.
func RetryTransientFailures(
	ctx context.Context,
	resp *http.Response,
	err error,
) (bool, error) {
	// Respect context cancellation and deadlines.
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	// Use retryablehttp's defaults for errors.
	//
	// Most errors are connection issues and retryable. The non-retryable
	// ones (invalid usage, TLS verification problems, too many redirects)
	// can only be detected by matching on the error string, which
	// retryablehttp does for us.
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}

	if resp.StatusCode == http.StatusNotImplemented {
		return false, nil
	}

	// Retry server errors and invalid HTTP codes.
	if resp.StatusCode == 0 || resp.StatusCode >= 500 {
		return true, nil
	}

	return false, nil
}
