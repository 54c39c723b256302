package restcache

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/relaycache/go-restcache/cache"
	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// Client is a client-side REST cache and synchronization engine: reads are
// served from an in-memory query table and kept fresh by background
// refresh; writes propagate through that table via per-query hooks instead
// of invalidating it wholesale.
type Client struct {
	cfg Config

	table     *table
	transport *transport
	auth      *authCoordinator
	lifecycle *lifecycleController
	events    *event.Emitter
	logger    zerolog.Logger
}

// New constructs a Client from cfg. The client starts deactivated; call
// Activate to let fetches proceed.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cacheSvc, err := cache.NewCacheService(*cfg.TransportCache)
	if err != nil {
		return nil, err
	}

	t := &table{}
	events := event.NewEmitter()
	lifecycle := newLifecycleController(t, cfg.RefreshInterval)

	c := &Client{
		cfg:       cfg,
		table:     t,
		lifecycle: lifecycle,
		events:    events,
		logger:    *cfg.Logger,
	}

	c.auth = newAuthCoordinator(events, rawFetch(cfg.FetchFunc), func(denyURLs []string) {
		c.table.evictUnderScope(denyURLs)
		c.events.Emit(event.Change, nil)
	})

	c.transport = &transport{
		fetch:         cfg.FetchFunc,
		auth:          c.auth,
		lifecycle:     lifecycle,
		keyword:       cfg.AuthorizationKeyword,
		cacheSvc:      cacheSvc,
		keySerializer: cache.NewDefaultKeySerializer(),
		waitForAuth:   true,
	}

	return c, nil
}

// rawFetch adapts a FetchFunc to the signature authCoordinator.authenticate
// expects for its unauthenticated login POST.
func rawFetch(fn FetchFunc) FetchFunc {
	return func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		if headers == nil {
			headers = map[string]string{}
		}
		return fn(ctx, method, url, body, headers)
	}
}

// Activate opens the gate on outbound fetches and starts the background
// expiration ticker. Calls to the fetch methods made before Activate block
// until it is called.
func (c *Client) Activate() { c.lifecycle.Activate() }

// Deactivate closes the gate: requests already in flight complete, but new
// fetch calls block until the next Activate.
func (c *Client) Deactivate() { c.lifecycle.Deactivate() }

// Close deactivates the client and releases its background ticker. The
// Client is not usable afterwards.
func (c *Client) Close() error {
	c.lifecycle.Deactivate()
	return nil
}

// canonical resolves url against the client's BaseURL (if url isn't already
// absolute), forces https if configured, and canonicalizes the result to
// the trailing-slash form the query table keys on.
func (c *Client) canonical(raw string) string {
	resolved := raw
	if c.cfg.BaseURL != "" {
		if u, err := joinURL(c.cfg.BaseURL, raw); err == nil {
			resolved = u
		}
	}
	resolved = urlutil.ForceHTTPS(resolved, c.cfg.ForceHTTPS)
	canon, err := urlutil.Canonicalize(resolved)
	if err != nil {
		return resolved
	}
	return canon
}

// IsCached reports whether url is currently present in the query table as
// an object query, regardless of expiration.
func (c *Client) IsCached(url string) bool {
	return c.table.find(QueryObject, c.canonical(url), 0, QueryOptions{}) != nil
}

// CacheService returns the transport-level cache service backing this
// client's GET coalescing, so callers that need to share it (a DI
// container, a second client) reuse the same instance instead of standing
// up a disjoint one.
func (c *Client) CacheService() cache.CacheService {
	return c.transport.cacheSvc
}

// KeySerializer returns the key serializer this client's transport uses to
// derive cache keys from method and URL.
func (c *Client) KeySerializer() cache.KeySerializer {
	return c.transport.keySerializer
}

// On subscribes fn to the named event (Change, Authentication,
// Authorization, Deauthorization) and returns an unsubscribe function.
func (c *Client) On(name event.Name, fn func(any)) func() {
	return c.events.On(name, fn)
}

// IsAuthorized reports whether a currently-valid token covers url.
func (c *Client) IsAuthorized(url string) bool {
	return c.auth.IsAuthorized(c.canonical(url))
}

// Authenticate posts credentials to loginURL unauthenticated and adopts the
// returned token for allowURLs.
func (c *Client) Authenticate(ctx context.Context, loginURL string, credentials any, allowURLs []string) (string, error) {
	return c.auth.authenticate(ctx, c.canonical(loginURL), credentials, canonicalAll(c, allowURLs))
}

// Authorize adopts a caller-supplied token for allowURLs directly, without
// a login round trip.
func (c *Client) Authorize(ctx context.Context, token string, allowURLs []string) (bool, error) {
	return c.auth.authorize(ctx, token, canonicalAll(c, allowURLs), false)
}

// CancelAuthentication drops url's pending authentication challenge, if
// any, resolving waiters with no token.
func (c *Client) CancelAuthentication(url string) {
	c.auth.cancelAuthentication(c.canonical(url))
}

// CancelAuthorization narrows every known token's scope by denyURLs, used
// exactly as given.
func (c *Client) CancelAuthorization(denyURLs []string) {
	c.auth.cancelAuthorization(denyURLs)
}

// RevokeAuthorization best-effort posts to logoutURL, narrows
// authorization, and evicts the affected cached queries.
func (c *Client) RevokeAuthorization(ctx context.Context, denyURLs []string, logoutURL string) error {
	resolved := logoutURL
	if resolved != "" {
		resolved = c.canonical(resolved)
	}
	return c.auth.revokeAuthorization(ctx, denyURLs, resolved)
}

func canonicalAll(c *Client, urls []string) []string {
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = c.canonical(u)
	}
	return out
}

// joinURL resolves ref against base per standard URL reference resolution,
// so an already-absolute ref passes through unchanged.
func joinURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
