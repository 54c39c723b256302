package event

// AuthenticationEvent is emitted when a request has been challenged and no
// token covers it yet.
type AuthenticationEvent struct {
	*Decision
	URL string
}

// AuthorizationEvent is emitted before a newly obtained token is adopted.
type AuthorizationEvent struct {
	*Decision
	Token     string
	AllowURLs []string
	Fresh     bool
}

// DeauthorizationEvent is emitted before a revoked token's queries are
// evicted from the cache.
type DeauthorizationEvent struct {
	*Decision
	DenyURLs []string
}
