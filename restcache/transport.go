package restcache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaycache/go-restcache/cache"
)

// transport layers token attachment, JSON decoding, status classification,
// and 401-retry-once-authenticated semantics over the host-supplied
// FetchFunc. GETs are additionally coalesced through a cache.CacheService
// so concurrent callers for the same URL share one in-flight request.
// Every write (POST/PUT/DELETE) carries a fresh Idempotency-Key header so
// a server that supports the convention can safely dedupe the 401-retry
// path without double-applying the mutation.
type transport struct {
	fetch         FetchFunc
	auth          *authCoordinator
	lifecycle     *lifecycleController
	keyword       string
	cacheSvc      cache.CacheService
	keySerializer cache.KeySerializer
	waitForAuth   bool
}

type rawResponse struct {
	status int
	body   []byte
}

// uncacheableStatus wraps a non-2xx response so it flows back through
// cache.GetOrFetch as an error instead of a cacheable value — a 401 or
// other failure must never be the entry a later retry (or another
// concurrent caller) reads back for the same method+URL key.
type uncacheableStatus struct {
	status int
	body   []byte
}

func (e *uncacheableStatus) Error() string {
	return "restcache: non-2xx response, not cached"
}

func (t *transport) get(ctx context.Context, url string) (any, error) {
	return t.do(ctx, http.MethodGet, url, nil, false)
}

// getFresh performs a GET bypassing the transport cache, for the explicit
// re-fetches a refresh protocol issues (refresh.go) — those must reach the
// live server, not replay a stampede-cache entry from an earlier read.
func (t *transport) getFresh(ctx context.Context, url string) (any, error) {
	return t.do(ctx, http.MethodGet, url, nil, true)
}

func (t *transport) post(ctx context.Context, url string, body any) (any, error) {
	return t.do(ctx, http.MethodPost, url, body, false)
}

func (t *transport) put(ctx context.Context, url string, body any) (any, error) {
	return t.do(ctx, http.MethodPut, url, body, false)
}

func (t *transport) delete(ctx context.Context, url string) (any, error) {
	return t.do(ctx, http.MethodDelete, url, nil, false)
}

func (t *transport) do(ctx context.Context, method, url string, body any, bypassCache bool) (any, error) {
	v, err := t.attempt(ctx, method, url, body, bypassCache)
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Kind == ErrTransport && t.lifecycle != nil && !t.lifecycle.Active() {
		if waitErr := t.lifecycle.WaitForActivation(ctx); waitErr == nil {
			v, err = t.attempt(ctx, method, url, body, bypassCache)
		}
	}
	return v, err
}

func (t *transport) attempt(ctx context.Context, method, url string, body any, bypassCache bool) (any, error) {
	headers := map[string]string{}
	if tok, ok := t.auth.token(url); ok {
		headers["Authorization"] = t.keyword + " " + tok
	}
	if method != http.MethodGet {
		headers["Idempotency-Key"] = uuid.NewString()
	}

	status, raw, err := t.invoke(ctx, method, url, body, headers, bypassCache)
	if err != nil {
		return nil, &Error{Kind: ErrTransport, Err: err}
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		t.auth.invalidate(url)
	}

	if status == http.StatusUnauthorized {
		if t.waitForAuth {
			tok, ok := t.auth.requestAuthentication(ctx, url)
			if ok {
				headers["Authorization"] = t.keyword + " " + tok
				// Bypass the transport cache: the failed attempt's 401
				// would otherwise still be the live cache entry for this
				// method+URL key, and replaying it defeats the whole
				// point of retrying with a fresh token.
				status, raw, err = t.invoke(ctx, method, url, body, headers, true)
				if err != nil {
					return nil, &Error{Kind: ErrTransport, Err: err}
				}
			}
		}
	}

	if status >= 400 {
		return nil, &Error{Kind: ErrHTTP, Status: status, StatusText: http.StatusText(status)}
	}
	if status == http.StatusNoContent || len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &Error{Kind: ErrTransport, Err: err}
	}
	return v, nil
}

// invoke performs the actual call, coalescing concurrent GETs for the same
// URL through the transport cache — unless bypassCache is set, which skips
// the cache entirely and always reaches the live FetchFunc.
func (t *transport) invoke(ctx context.Context, method, url string, body any, headers map[string]string, bypassCache bool) (int, []byte, error) {
	if method != http.MethodGet || t.cacheSvc == nil || bypassCache {
		return t.fetch(ctx, method, url, body, headers)
	}
	key := t.keySerializer.SerializeKey("GET", url)
	res, err := cache.GetOrFetch(ctx, t.cacheSvc, key, func(ctx context.Context) (rawResponse, error) {
		status, raw, ferr := t.fetch(ctx, method, url, body, headers)
		if ferr != nil {
			return rawResponse{}, ferr
		}
		if status >= 400 {
			return rawResponse{}, &uncacheableStatus{status: status, body: raw}
		}
		return rawResponse{status: status, body: raw}, nil
	})
	if err != nil {
		var uc *uncacheableStatus
		if errors.As(err, &uc) {
			return uc.status, uc.body, nil
		}
		return 0, nil, err
	}
	return res.status, res.body, nil
}
