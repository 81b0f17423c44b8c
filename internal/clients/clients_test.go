package clients_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-impact/csda-bulk-download/internal/clients"
)

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, clients.SecondsToDuration(1.5))
	assert.Equal(t, 1.5, clients.DurationToSeconds(1500*time.Millisecond))
}

type headerProvider struct {
	key, value string
}

func (p headerProvider) Apply(req *http.Request) error {
	req.Header.Set(p.key, p.value)
	return nil
}

func TestWithCredentialsAppliesProviderToEveryRequest(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotHeader = r.Header.Get("Authorization")
		}))
	defer server.Close()

	client := clients.NewRetryClient(
		clients.WithRetryClientRetryMax(0),
		clients.WithCredentials(headerProvider{"Authorization", "Bearer abc"}),
	)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer abc", gotHeader)
}

func TestWithNoFollowRedirectsReturnsTheRedirect(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "/elsewhere")
			w.WriteHeader(http.StatusFound)
		}))
	defer server.Close()

	client := clients.NewRetryClient(
		clients.WithRetryClientRetryMax(0),
		clients.WithNoFollowRedirects(),
	)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}

func TestWithMaxRedirectsStopsRedirectLoops(t *testing.T) {
	hops := 0
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hops++
			w.Header().Set("Location", fmt.Sprintf("/hop-%d", hops))
			w.WriteHeader(http.StatusFound)
		}))
	defer server.Close()

	client := clients.NewRetryClient(
		clients.WithRetryClientRetryMax(0),
		clients.WithMaxRedirects(5),
	)

	//nolint:bodyclose // the request fails, there is no body
	_, err := client.Get(server.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 5 redirects")
	assert.LessOrEqual(t, hops, 6)
}
