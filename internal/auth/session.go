// Package auth implements the Earthdata Login handshake that exchanges a
// username and password for a CSDA API bearer token.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nasa-impact/csda-bulk-download/internal/clients"
	"github.com/nasa-impact/csda-bulk-download/internal/observability"
)

// Token is an opaque bearer credential valid for the rest of the run.
//
// It implements fmt.Stringer with a redacted value so it can't leak through
// log statements.
type Token string

func (t Token) String() string {
	return "[redacted]"
}

// redirectURI identifies this client to the authorize endpoint.
const redirectURI = "script"

// Session performs the login handshake against the CSDA API.
//
// The protocol is a fixed three-hop chain: the API redirects to Earthdata
// Login's authorize endpoint, Earthdata Login authenticates the Basic
// credentials and redirects back with an authorization code, and the code
// is exchanged for an access token. Both redirects are inspected rather
// than followed.
type Session struct {
	baseURL string
	client  *retryablehttp.Client
	logger  *observability.CoreLogger
}

type SessionParams struct {
	// BaseURL is the root of the CSDA API, e.g.
	// https://csdap.earthdata.nasa.gov/api.
	BaseURL string

	// Timeout applies to each login request. Zero means no timeout.
	Timeout time.Duration

	Logger *observability.CoreLogger
}

func NewSession(params SessionParams) *Session {
	return &Session{
		baseURL: strings.TrimRight(params.BaseURL, "/"),
		client: clients.NewRetryClient(
			clients.WithRetryClientLogger(params.Logger),
			clients.WithRetryClientRetryMax(3),
			clients.WithRetryClientRetryPolicy(clients.RetryTransientFailures),
			clients.WithRetryClientHttpTimeout(params.Timeout),
			clients.WithNoFollowRedirects(),
		),
		logger: params.Logger,
	}
}

// Login runs the handshake and returns the bearer token.
//
// The password is used for one Basic-auth request and is not retained.
// All failures are reported as *Error.
func (s *Session) Login(
	ctx context.Context,
	username string,
	password string,
) (Token, error) {
	edlURL, err := s.requestAuthorizeRedirect(ctx)
	if err != nil {
		return "", err
	}

	s.logger.Debug("auth: authenticating with Earthdata Login")
	code, err := s.authenticate(ctx, edlURL, username, password)
	if err != nil {
		return "", err
	}

	s.logger.Debug("auth: exchanging authorization code for access token")
	return s.exchangeCode(ctx, code)
}

// requestAuthorizeRedirect asks the API where to authenticate and returns
// the Earthdata Login authorize URL.
func (s *Session) requestAuthorizeRedirect(ctx context.Context) (string, error) {
	authURL := fmt.Sprintf(
		"%s/v1/auth/?redirect_uri=%s",
		s.baseURL,
		url.QueryEscape(redirectURI),
	)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", &Error{Message: err.Error()}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("requesting authorize redirect: %v", err)}
	}
	_ = resp.Body.Close()

	if !isRedirect(resp.StatusCode) {
		return "", &Error{Message: fmt.Sprintf(
			"expected redirect from service, got %d", resp.StatusCode)}
	}

	edlURL := resp.Header.Get("Location")
	loc, err := url.Parse(edlURL)
	if err != nil || !strings.HasPrefix(loc.Path, "/oauth/authorize") {
		return "", &Error{Message: fmt.Sprintf(
			"unexpected redirect target %q, expected /oauth/authorize", edlURL)}
	}

	return edlURL, nil
}

// authenticate presents the credentials to Earthdata Login and returns the
// authorization code from its callback redirect.
func (s *Session) authenticate(
	ctx context.Context,
	edlURL string,
	username string,
	password string,
) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, edlURL, nil)
	if err != nil {
		return "", &Error{Message: err.Error()}
	}
	req.SetBasicAuth(username, password)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("authenticating with Earthdata Login: %v", err)}
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &Error{Message: fmt.Sprintf(
			"failed to authenticate with Earthdata Login, response from server:\n%s\n"+
				"HINT: check username and password",
			strings.TrimSpace(string(body)))}
	}
	if !isRedirect(resp.StatusCode) {
		return "", &Error{Message: fmt.Sprintf(
			"expected redirect from identity provider, got %d", resp.StatusCode)}
	}

	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("invalid callback redirect: %v", err)}
	}
	query := loc.Query()

	if query.Get("error") != "" {
		// A one-time application authorization is pending: the callback
		// carries an error, but the page body names a resolution URL the
		// user must visit to grant this application access.
		if resp.StatusCode == http.StatusFound &&
			strings.Contains(string(body), "resolution_url") {
			return "", &Error{
				Message: "authorization required for this application, " +
					"please authorize by visiting the resolution url",
				ResolutionURL: extractResolutionURL(string(body)),
			}
		}
		return "", &Error{Message: query.Get("error_msg")}
	}

	code := query.Get("code")
	if code == "" {
		return "", &Error{Message: "no authorization code in identity provider redirect"}
	}
	return code, nil
}

// exchangeCode trades the authorization code for an access token.
func (s *Session) exchangeCode(ctx context.Context, code string) (Token, error) {
	form := url.Values{"code": {code}}
	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+"/v1/auth/token",
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", &Error{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("exchanging code for token: %v", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return "", &Error{Message: fmt.Sprintf(
			"token endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var tokenResponse struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return "", &Error{Message: fmt.Sprintf("invalid response from token endpoint: %v", err)}
	}
	if tokenResponse.AccessToken == "" {
		return "", &Error{Message: "token endpoint returned no access_token"}
	}

	return Token(tokenResponse.AccessToken), nil
}

func isRedirect(statusCode int) bool {
	return statusCode == http.StatusFound ||
		statusCode == http.StatusTemporaryRedirect
}

// extractResolutionURL scans an identity provider page for the URL the user
// must visit to authorize this application. The value follows the
// "resolution_url" key and runs to the next quote character.
func extractResolutionURL(body string) string {
	const key = "resolution_url"
	start := strings.Index(body, key)
	if start < 0 {
		return ""
	}
	start += len(key) + 1
	if start >= len(body) {
		return ""
	}
	end := strings.IndexByte(body[start:], '"')
	if end < 0 {
		return body[start:]
	}
	return body[start : start+end]
}
