package restcache

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/relaycache/go-restcache/cache"
)

// FetchFunc is the pluggable HTTP transport: it issues method against url
// with body (a JSON-marshalable value, or nil), attaching headers, and
// returns the raw status code and response body. Hosts typically implement
// this over net/http; tests typically implement it over httptest.
type FetchFunc func(ctx context.Context, method, url string, body any, headers map[string]string) (status int, respBody []byte, err error)

// Config configures a Client.
type Config struct {
	// BaseURL is prefixed onto any URL passed to the client's fetch
	// methods that isn't already absolute.
	BaseURL string
	// RefreshInterval is the window after which a cached query is
	// considered expired. The lifecycle controller's background ticker
	// runs at min(100ms, RefreshInterval/10).
	RefreshInterval time.Duration
	// AuthorizationKeyword is the scheme word used in the Authorization
	// header (e.g. "Token" or "Bearer"). Defaults to "Token".
	AuthorizationKeyword string
	// AbbreviatedFolderContents, when true, treats every list/page query
	// as abbreviated by default: deriveQuery will never synthesize an
	// object query from their contents.
	AbbreviatedFolderContents bool
	// ForceHTTPS rewrites http:// URLs to https:// when BaseURL itself is
	// https.
	ForceHTTPS bool
	// FetchFunc is the underlying HTTP transport. Required.
	FetchFunc FetchFunc
	// TransportCache configures the stampede-safe GET coalescing cache
	// layered under FetchFunc. Defaults to cache.DefaultConfig().
	TransportCache *cache.Config
	// Logger receives structured diagnostics for background refresh and
	// propagation failures, which are otherwise swallowed. Defaults to a
	// no-op logger.
	Logger *zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.AuthorizationKeyword == "" {
		c.AuthorizationKeyword = "Token"
	}
	if c.TransportCache == nil {
		def := cache.DefaultConfig()
		c.TransportCache = &def
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Validate checks the configuration for required fields and well-formed
// values.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.FetchFunc, validation.Required),
		validation.Field(&c.RefreshInterval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.TransportCache != nil {
		return c.TransportCache.Validate()
	}
	return nil
}
