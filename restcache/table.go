package restcache

import (
	"sync"
	"time"

	"github.com/relaycache/go-restcache/internal/urlutil"
)

// table is the in-memory query registry. Concurrency & Resource Model
// notes one deliberate departure from a lock-free, single-threaded-
// cooperative model: write propagation issues POST/PUT/DELETE calls in
// parallel (per the component design for the propagation engine), and
// those goroutines mutate the same table a concurrent read may be walking,
// so a mutex guards every access here.
type table struct {
	mu      sync.Mutex
	queries []*Query
}

func (t *table) insertFront(q *Query) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = append([]*Query{q}, t.queries...)
}

func (t *table) find(qtype QueryType, url string, page int, opts QueryOptions) *Query {
	key := identityKey(qtype, url, page, opts)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.queries {
		if q.identityKey() == key {
			return q
		}
	}
	return nil
}

// derive looks for absURL as a member of any cached, non-expired,
// non-abbreviated page or list query and synthesizes an object query from
// the match, optionally splicing it into the table at the head.
func (t *table) derive(absURL string, add bool) *Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.queries {
		derived := q.deriveObject(absURL)
		if derived == nil {
			continue
		}
		if add {
			t.queries = append([]*Query{derived}, t.queries...)
		}
		return derived
	}
	return nil
}

// invalidate marks every query whose Time is at or before cutoff as
// expired. A nil cutoff expires everything.
func (t *table) invalidate(cutoff *time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, q := range t.queries {
		q.mu.Lock()
		expire := cutoff == nil || !q.Time.After(*cutoff)
		if expire {
			q.Expired = true
		}
		q.mu.Unlock()
	}
}

func (t *table) removeAll(targets []*Query) {
	if len(targets) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	remove := make(map[*Query]bool, len(targets))
	for _, q := range targets {
		remove[q] = true
	}
	out := t.queries[:0:0]
	for _, q := range t.queries {
		if !remove[q] {
			out = append(out, q)
		}
	}
	t.queries = out
}

// evictSiblingPages removes expired, non-refreshing page queries in the
// same folder as baseURL other than exceptPage, returning what it removed
// so the caller can schedule a background re-fetch.
func (t *table) evictSiblingPages(baseURL string, exceptPage int) []*Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	folder := urlutil.StripQuery(baseURL)
	var evicted, kept []*Query
	for _, q := range t.queries {
		if q.Type == QueryPage && urlutil.StripQuery(q.URL) == folder && q.Page != exceptPage && q.evictableSibling() {
			evicted = append(evicted, q)
			continue
		}
		kept = append(kept, q)
	}
	t.queries = kept
	return evicted
}

// evictUnderScope drops every query whose URL falls under any of prefixes,
// used when an authorization is revoked.
func (t *table) evictUnderScope(prefixes []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var kept []*Query
	for _, q := range t.queries {
		if matchesAny(prefixes, q.URL) {
			continue
		}
		kept = append(kept, q)
	}
	t.queries = kept
}

func (t *table) snapshot() []*Query {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Query(nil), t.queries...)
}
