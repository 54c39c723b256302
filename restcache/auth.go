package restcache

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// authRecord is a token scoped to the URL prefixes it is known to be valid
// (allow) and explicitly revoked for (deny).
type authRecord struct {
	token   string
	allow   []string
	deny    []string
	invalid bool
}

// challenge tracks a single in-flight requestAuthentication call so
// concurrent 401s against the same URL share one pending resolution.
type challenge struct {
	pending *event.Deferred[string]
}

// authCoordinator implements the per-URL authentication/authorization
// bookkeeping: a challenge table for pending requestAuthentication calls
// and a token table of authRecords, consulted by the transport before every
// request and updated by authorize/cancelAuthentication/
// cancelAuthorization/revokeAuthorization.
type authCoordinator struct {
	mu         sync.Mutex
	records    []*authRecord
	challenges map[string]*challenge

	events   *event.Emitter
	rawFetch FetchFunc
	evict    func(denyURLs []string)
}

func newAuthCoordinator(events *event.Emitter, rawFetch FetchFunc, evict func([]string)) *authCoordinator {
	return &authCoordinator{
		challenges: make(map[string]*challenge),
		events:     events,
		rawFetch:   rawFetch,
		evict:      evict,
	}
}

func matchesAny(prefixes []string, url string) bool {
	for _, p := range prefixes {
		if urlutil.MatchURL(url, p) {
			return true
		}
	}
	return false
}

func subtract(allow, deny []string) []string {
	var out []string
	for _, a := range allow {
		keep := true
		for _, d := range deny {
			if a == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, a)
		}
	}
	return out
}

func (a *authCoordinator) token(url string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if r.invalid {
			continue
		}
		if matchesAny(r.allow, url) && !matchesAny(r.deny, url) {
			return r.token, true
		}
	}
	return "", false
}

// IsAuthorized reports whether a currently-valid token covers url.
func (a *authCoordinator) IsAuthorized(url string) bool {
	_, ok := a.token(url)
	return ok
}

func (a *authCoordinator) invalidate(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		if matchesAny(r.allow, url) {
			r.invalid = true
		}
	}
}

// requestAuthentication parks on (or creates) url's challenge, firing an
// Authentication event the first time. It returns the token and true once
// authorize resolves the challenge, or "", false if the handler called
// PreventDefault or cancelAuthentication was invoked.
func (a *authCoordinator) requestAuthentication(ctx context.Context, url string) (string, bool) {
	a.mu.Lock()
	if ch, ok := a.challenges[url]; ok {
		a.mu.Unlock()
		tok, err := ch.pending.Wait(ctx)
		return tok, err == nil && tok != ""
	}
	ch := &challenge{pending: event.NewDeferred[string]()}
	a.challenges[url] = ch
	a.mu.Unlock()

	ev := &event.AuthenticationEvent{Decision: event.NewDecision(), URL: url}
	a.events.Emit(event.Authentication, ev)
	ev.Settle()

	if ev.Prevented() {
		a.mu.Lock()
		delete(a.challenges, url)
		a.mu.Unlock()
		ch.pending.Resolve("")
		return "", false
	}

	tok, err := ch.pending.Wait(ctx)
	return tok, err == nil && tok != ""
}

// cancelAuthentication drops url's pending challenge, resolving any waiters
// with no token.
func (a *authCoordinator) cancelAuthentication(url string) {
	a.mu.Lock()
	ch, ok := a.challenges[url]
	if ok {
		delete(a.challenges, url)
	}
	a.mu.Unlock()
	if ok {
		ch.pending.Resolve("")
	}
}

// authenticate POSTs credentials to loginURL unauthenticated, then adopts
// the returned key via authorize.
func (a *authCoordinator) authenticate(ctx context.Context, loginURL string, credentials any, allowURLs []string) (string, error) {
	status, raw, err := a.rawFetch(ctx, http.MethodPost, loginURL, credentials, nil)
	if err != nil {
		return "", &Error{Kind: ErrTransport, Err: err}
	}
	if status >= 400 {
		return "", &Error{Kind: ErrHTTP, Status: status, StatusText: http.StatusText(status)}
	}
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &Error{Kind: ErrTransport, Err: err}
	}
	key, _ := resp["key"].(string)
	if key == "" {
		return "", &Error{Kind: ErrHTTP, Status: http.StatusForbidden, StatusText: "no authorization token in response"}
	}
	if _, err := a.authorize(ctx, key, allowURLs, true); err != nil {
		return "", err
	}
	return key, nil
}

// authorize adopts token as valid for allowURLs. If token is already known
// and valid, this is a no-op returning false. Firing the Authorization
// event gives a handler the chance to veto via PreventDefault.
func (a *authCoordinator) authorize(ctx context.Context, token string, allowURLs []string, fresh bool) (bool, error) {
	a.mu.Lock()
	for _, r := range a.records {
		if r.token == token && !r.invalid {
			a.mu.Unlock()
			return false, nil
		}
	}
	a.mu.Unlock()

	ev := &event.AuthorizationEvent{Decision: event.NewDecision(), Token: token, AllowURLs: allowURLs, Fresh: fresh}
	a.events.Emit(event.Authorization, ev)
	ev.Settle()
	if ev.Prevented() {
		return false, nil
	}

	a.mu.Lock()
	var kept []*authRecord
	for _, r := range a.records {
		remaining := subtract(r.allow, allowURLs)
		if len(remaining) == 0 {
			continue
		}
		r.allow = remaining
		kept = append(kept, r)
	}
	kept = append(kept, &authRecord{token: token, allow: append([]string(nil), allowURLs...)})
	a.records = kept

	var resolved []*challenge
	for u, ch := range a.challenges {
		if matchesAny(allowURLs, u) {
			resolved = append(resolved, ch)
			delete(a.challenges, u)
		}
	}
	a.mu.Unlock()

	for _, ch := range resolved {
		ch.pending.Resolve(token)
	}
	a.events.Emit(event.Change, nil)
	return true, nil
}

// cancelAuthorization narrows every record's scope by adding denyURLs to its
// deny set, as given (it does not canonicalize or expand prefixes).
func (a *authCoordinator) cancelAuthorization(denyURLs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		r.deny = append(r.deny, denyURLs...)
	}
}

// revokeAuthorization POSTs to logoutURL (best-effort; a failure there
// does not block local revocation), narrows authorization, fires a
// Deauthorization event, and evicts the affected queries unless a handler
// calls PreventDefault.
func (a *authCoordinator) revokeAuthorization(ctx context.Context, denyURLs []string, logoutURL string) error {
	if logoutURL != "" {
		_, _, _ = a.rawFetch(ctx, http.MethodPost, logoutURL, nil, nil)
	}
	a.cancelAuthorization(denyURLs)

	ev := &event.DeauthorizationEvent{Decision: event.NewDecision(), DenyURLs: denyURLs}
	a.events.Emit(event.Deauthorization, ev)
	ev.Settle()
	if !ev.Prevented() && a.evict != nil {
		a.evict(denyURLs)
	}
	a.events.Emit(event.Change, nil)
	return nil
}
