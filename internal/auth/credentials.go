package auth

import (
	"net/http"

	"github.com/nasa-impact/csda-bulk-download/internal/clients"
)

var _ clients.CredentialProvider = &bearerTokenProvider{}

type bearerTokenProvider struct {
	token Token
}

// NewBearerTokenProvider returns a credential provider that attaches the
// token to each request as an Authorization bearer header.
func NewBearerTokenProvider(token Token) clients.CredentialProvider {
	return &bearerTokenProvider{token: token}
}

func (p *bearerTokenProvider) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(p.token))
	return nil
}
