package restcache

import (
	"context"
	"net/http"
	"testing"

	"github.com/relaycache/go-restcache/cache"
	"github.com/relaycache/go-restcache/restcache/event"
)

func newTestTransport(fetch FetchFunc) *transport {
	events := event.NewEmitter()
	auth := newAuthCoordinator(events, fetch, nil)
	cacheSvc, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return &transport{
		fetch:         fetch,
		auth:          auth,
		keyword:       "Token",
		cacheSvc:      cacheSvc,
		keySerializer: cache.NewDefaultKeySerializer(),
	}
}

func TestTransportGetDecodesJSON(t *testing.T) {
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		return 200, []byte(`{"id":1,"name":"widget"}`), nil
	})

	v, err := tr.get(context.Background(), "https://api.example.com/items/1/")
	if err != nil {
		t.Fatalf("get() failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["name"] != "widget" {
		t.Errorf("get() = %+v", v)
	}
}

func TestTransportCoalescesConcurrentGETs(t *testing.T) {
	var calls int
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		calls++
		return 200, []byte(`{"id":1}`), nil
	})

	ctx := context.Background()
	done := make(chan error, 2)
	go func() { _, err := tr.get(ctx, "https://api.example.com/items/1/"); done <- err }()
	go func() { _, err := tr.get(ctx, "https://api.example.com/items/1/"); done <- err }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("get() failed: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected coalescing to share one upstream call, got %d", calls)
	}
}

func TestTransportHTTPErrorStatus(t *testing.T) {
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		return 404, nil, nil
	})

	_, err := tr.get(context.Background(), "https://api.example.com/items/missing/")
	status, ok := splitError(err)
	if !ok || status != 404 {
		t.Fatalf("expected an HTTP 404 error, got %v", err)
	}
}

func TestTransportNoContentReturnsNil(t *testing.T) {
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		return 204, nil, nil
	})
	v, err := tr.delete(context.Background(), "https://api.example.com/items/1/")
	if err != nil || v != nil {
		t.Errorf("delete() = %+v, %v, want nil, nil", v, err)
	}
}

func TestTransportAttachesAuthorizationHeader(t *testing.T) {
	var gotHeader string
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		gotHeader = headers["Authorization"]
		return 200, []byte(`{}`), nil
	})
	tr.auth.authorize(context.Background(), "secret", []string{"https://api.example.com/"}, true)

	if _, err := tr.post(context.Background(), "https://api.example.com/items/", map[string]any{}); err != nil {
		t.Fatalf("post() failed: %v", err)
	}
	if gotHeader != "Token secret" {
		t.Errorf("Authorization header = %q, want %q", gotHeader, "Token secret")
	}
}

func TestTransportAttachesIdempotencyKeyToWrites(t *testing.T) {
	var gotGet, gotPost string
	tr := newTestTransport(func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		if method == http.MethodGet {
			gotGet = headers["Idempotency-Key"]
		} else {
			gotPost = headers["Idempotency-Key"]
		}
		return 200, []byte(`{}`), nil
	})

	if _, err := tr.get(context.Background(), "https://api.example.com/items/1/"); err != nil {
		t.Fatalf("get() failed: %v", err)
	}
	if gotGet != "" {
		t.Errorf("GET should not carry an Idempotency-Key, got %q", gotGet)
	}

	if _, err := tr.post(context.Background(), "https://api.example.com/items/", map[string]any{}); err != nil {
		t.Fatalf("post() failed: %v", err)
	}
	if gotPost == "" {
		t.Error("POST should carry a non-empty Idempotency-Key")
	}
}

func TestTransportRetryAfter401DoesNotReplayCachedStatus(t *testing.T) {
	tr := newTestTransport(nil)
	var calls int
	tr.fetch = func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		calls++
		if calls == 1 {
			return http.StatusUnauthorized, nil, nil
		}
		return 200, []byte(`{"ok":true}`), nil
	}
	tr.auth.rawFetch = tr.fetch
	tr.waitForAuth = true
	tr.auth.events.On(event.Authentication, func(v any) {
		ev := v.(*event.AuthenticationEvent)
		go tr.auth.authorize(context.Background(), "fresh-token", []string{ev.URL}, true)
	})

	// A second GET for the same URL, issued after the first has settled,
	// must not observe the first call's 401 via the transport cache.
	v, err := tr.get(context.Background(), "https://api.example.com/items/1/")
	if err != nil {
		t.Fatalf("get() failed: %v", err)
	}
	m, _ := v.(map[string]any)
	if m["ok"] != true {
		t.Fatalf("expected the retried response, got %+v", v)
	}

	v2, err := tr.get(context.Background(), "https://api.example.com/items/1/")
	if err != nil {
		t.Fatalf("second get() failed: %v", err)
	}
	m2, _ := v2.(map[string]any)
	if m2["ok"] != true {
		t.Errorf("second get() should observe the successful response, not a cached 401, got %+v", v2)
	}
}

func TestTransportRetriesOnceAfter401(t *testing.T) {
	tr := newTestTransport(nil)
	var calls int
	tr.fetch = func(ctx context.Context, method, url string, body any, headers map[string]string) (int, []byte, error) {
		calls++
		if calls == 1 {
			return http.StatusUnauthorized, nil, nil
		}
		return 200, []byte(`{"ok":true}`), nil
	}
	tr.auth.rawFetch = tr.fetch
	tr.waitForAuth = true
	tr.auth.events.On(event.Authentication, func(v any) {
		ev := v.(*event.AuthenticationEvent)
		go tr.auth.authorize(context.Background(), "fresh-token", []string{ev.URL}, true)
	})

	v, err := tr.get(context.Background(), "https://api.example.com/items/1/")
	if err != nil {
		t.Fatalf("get() failed: %v", err)
	}
	m, _ := v.(map[string]any)
	if m["ok"] != true {
		t.Errorf("expected the retried response to be returned, got %+v", v)
	}
	if calls != 2 {
		t.Errorf("expected exactly one retry after 401, got %d calls", calls)
	}
}
