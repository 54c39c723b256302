package restcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// QueryType distinguishes the three shapes of cached fetch: a single
// object, one page of a paginated collection, or a list accumulated by
// walking pages.
type QueryType int

const (
	QueryObject QueryType = iota
	QueryPage
	QueryList
)

func (t QueryType) String() string {
	switch t {
	case QueryObject:
		return "object"
	case QueryPage:
		return "page"
	case QueryList:
		return "list"
	default:
		return "unknown"
	}
}

// QueryOptions are the recognized per-query options. Minimum and
// Abbreviated participate in query identity: they change this query's
// own observable fetch behavior. AfterInsert/AfterUpdate/AfterDelete are
// write-time policy attached to the query and are normalized out of the
// identity key, since they don't affect what this query itself returns.
type QueryOptions struct {
	// Minimum controls early-return pagination: an int (absolute count or,
	// if negative, total+Minimum), or a "NN%" string (percentage of the
	// known total). Nil uses the operation's own default.
	Minimum any
	// Abbreviated marks a list/page query whose items are partial
	// representations that must not be used to derive single-object
	// queries via deriveQuery.
	Abbreviated bool

	AfterInsert Hook
	AfterUpdate Hook
	AfterDelete Hook
}

// ResultList is the wrapper record returned for page and list queries: the
// decoded items, the server-reported total, and a More thunk for
// continuing pagination (a no-op once exhausted).
type ResultList struct {
	Items []map[string]any
	Total int
	More  func(ctx context.Context) (*ResultList, error)
}

// Query is a single cached fetch: either a single object, a single page
// of a collection, or an accumulated list.
type Query struct {
	Type    QueryType
	URL     string
	Page    int
	Options QueryOptions

	Object  map[string]any
	Objects *ResultList

	Time       time.Time
	Expired    bool
	Refreshing bool

	// NextURL/NextPage track where the next fetchNextPage call should
	// continue a list query.
	NextURL  string
	NextPage int

	// mu guards every field above from Object through NextPage (and the
	// Items/Total/More fields of whatever ResultList Objects points at),
	// plus nextPromise. Type, URL, Page, and Options are set once at
	// construction and never touched again, so they need no lock. A
	// background refresh, a write-propagation pass, and a table sweep
	// (invalidate, evictSiblingPages) can all reach the same *Query
	// concurrently with a caller's own read in FetchOne/FetchPage/
	// FetchList, so every one of them takes mu.
	mu          sync.Mutex
	nextPromise *event.Deferred[*ResultList]
}

func (q *Query) identityKey() string {
	return identityKey(q.Type, q.URL, q.Page, q.Options)
}

// cachedObject returns q.Object and q.Expired as a consistent pair.
func (q *Query) cachedObject() (obj map[string]any, expired bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.Object, q.Expired
}

// cachedObjects returns q.Objects and q.Expired as a consistent pair.
func (q *Query) cachedObjects() (objs *ResultList, expired bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.Objects, q.Expired
}

// beginRefresh atomically checks Refreshing and, if no refresh is already
// under way, sets it and returns true. Two concurrent callers racing to
// refresh the same expired query must not both proceed: whichever loses
// this check turns into a no-op instead of duplicating the fetch.
func (q *Query) beginRefresh() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Refreshing {
		return false
	}
	q.Refreshing = true
	return true
}

func (q *Query) endRefresh() {
	q.mu.Lock()
	q.Refreshing = false
	q.mu.Unlock()
}

// deriveObject scans q's cached items under lock for absURL, returning an
// unshared object query seeded from the match, or nil if q is expired,
// abbreviated, has no items yet, or doesn't contain absURL.
func (q *Query) deriveObject(absURL string) *Query {
	q.mu.Lock()
	defer q.mu.Unlock()
	if (q.Type != QueryPage && q.Type != QueryList) || q.Expired || q.Options.Abbreviated || q.Objects == nil {
		return nil
	}
	folder := urlutil.StripQuery(q.URL)
	for _, obj := range q.Objects.Items {
		if urlutil.ObjectURL(folder, obj) == absURL {
			return &Query{Type: QueryObject, URL: absURL, Object: obj, Time: q.Time}
		}
	}
	return nil
}

// evictableSibling reports whether q is expired and not mid-refresh.
func (q *Query) evictableSibling() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.Expired && !q.Refreshing
}

func identityKey(qtype QueryType, url string, page int, opts QueryOptions) string {
	return fmt.Sprintf("%d\x1f%s\x1f%d\x1f%s\x1f%t", qtype, url, page, minimumKey(opts.Minimum), opts.Abbreviated)
}

func minimumKey(m any) string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%v", m)
}
