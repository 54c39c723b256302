package di

import (
	"github.com/relaycache/go-restcache/cache"
	"github.com/relaycache/go-restcache/restcache"
)

// Container provides dependency injection for the REST cache client: it
// wires a restcache.Client from a Config and exposes the singleton
// instances a host application needs (the client itself, its underlying
// transport cache service, and its key serializer). The cache service and
// key serializer are the exact instances restcache.New wired into the
// client's transport, not independent copies, so a caller sharing
// Container.CacheService() with another component is sharing the same
// coalescing cache the client's GET requests actually go through.
type Container struct {
	client        *restcache.Client
	cacheService  cache.CacheService
	keySerializer cache.KeySerializer
	config        restcache.Config
}

// NewContainer creates a new DI container with the provided restcache
// configuration. The returned client is inactive; call Activate on it (or
// Container.Activate) before issuing fetches.
func NewContainer(config restcache.Config) (*Container, error) {
	client, err := restcache.New(config)
	if err != nil {
		return nil, err
	}

	return &Container{
		client:        client,
		cacheService:  client.CacheService(),
		keySerializer: client.KeySerializer(),
		config:        config,
	}, nil
}

// NewContainerWithDefaults creates a new DI container using default cache
// configuration and the supplied transport. FetchFunc is required since
// restcache.Config has no usable default for it.
func NewContainerWithDefaults(fetchFunc restcache.FetchFunc) (*Container, error) {
	transportCache := cache.DefaultConfig()
	return NewContainer(restcache.Config{
		FetchFunc:            fetchFunc,
		AuthorizationKeyword: "Token",
		TransportCache:       &transportCache,
	})
}

// Client returns the singleton restcache.Client instance.
func (c *Container) Client() *restcache.Client {
	return c.client
}

// CacheService returns the singleton transport-level cache service
// instance backing the client's GET coalescing, for advanced use cases
// that want to share it with other callers.
func (c *Container) CacheService() cache.CacheService {
	return c.cacheService
}

// KeySerializer returns the singleton key serializer instance.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the restcache configuration used by this
// container.
func (c *Container) Config() restcache.Config {
	return c.config
}

// Activate opens the underlying client's fetch gate. Convenience wrapper
// so callers don't need to reach through Client().
func (c *Container) Activate() {
	c.client.Activate()
}
