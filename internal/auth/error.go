package auth

// Error is any failure in the login handshake. It is fatal to the run: no
// downloads proceed without a token.
type Error struct {
	Message string

	// ResolutionURL is set when the failure is a pending application
	// authorization rather than bad credentials. The user must visit this
	// URL once to grant the application access.
	ResolutionURL string
}

func (e *Error) Error() string {
	if e.ResolutionURL != "" {
		return e.Message + "\n" + e.ResolutionURL
	}
	return e.Message
}
