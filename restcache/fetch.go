package restcache

import (
	"context"
	"sync"
	"time"

	"github.com/relaycache/go-restcache/internal/objectutil"
	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// decodeCollection interprets a decoded JSON response as either a bare
// array (a complete, unpaginated list) or an envelope carrying
// count/results/next (a single page of a paginated collection).
func decodeCollection(raw any) (items []map[string]any, total int, next string) {
	switch v := raw.(type) {
	case []any:
		items = toObjects(v)
		return items, len(items), ""
	case map[string]any:
		if results, ok := v["results"].([]any); ok {
			items = toObjects(results)
		}
		if c, ok := v["count"].(float64); ok {
			total = int(c)
		} else {
			total = len(items)
		}
		if n, ok := v["next"].(string); ok {
			next = n
		}
		return items, total, next
	default:
		return nil, 0, ""
	}
}

func toObjects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// FetchOne returns the object at url, deriving it from a cached list/page
// when possible before falling back to a GET.
func (c *Client) FetchOne(ctx context.Context, url string, opts QueryOptions) (map[string]any, error) {
	if err := validateQueryOptions(QueryObject, opts); err != nil {
		return nil, err
	}
	absURL := c.canonical(url)
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}

	if q := c.table.find(QueryObject, absURL, 0, opts); q != nil {
		obj, expired := q.cachedObject()
		if expired {
			go c.refreshOneBackground(absURL, q)
		}
		return obj, nil
	}

	if !opts.Abbreviated && !c.cfg.AbbreviatedFolderContents {
		if derived := c.table.derive(absURL, true); derived != nil {
			return derived.Object, nil
		}
	}

	raw, err := c.transport.get(ctx, absURL)
	if err != nil {
		return nil, err
	}
	obj, _ := raw.(map[string]any)
	q := &Query{Type: QueryObject, URL: absURL, Object: obj, Time: time.Now(), Options: opts}
	c.table.insertFront(q)
	return obj, nil
}

// FetchPage returns page n of the collection at url.
func (c *Client) FetchPage(ctx context.Context, url string, page int, opts QueryOptions) (*ResultList, error) {
	if err := validateQueryOptions(QueryPage, opts); err != nil {
		return nil, err
	}
	absURL := c.canonical(url)
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}

	if q := c.table.find(QueryPage, absURL, page, opts); q != nil {
		objs, expired := q.cachedObjects()
		if expired {
			go c.refreshPageBackground(absURL, page, q)
		}
		return objs, nil
	}

	raw, err := c.transport.get(ctx, urlutil.AttachPageNumber(absURL, page))
	if err != nil {
		return nil, err
	}
	items, total, next := decodeCollection(raw)
	rl := &ResultList{Items: objectutil.Dedupe(items), Total: total}
	rl.More = noopMore(rl)
	q := &Query{Type: QueryPage, URL: absURL, Page: page, Options: opts, Objects: rl, Time: time.Now(), NextURL: next}
	c.table.insertFront(q)
	return rl, nil
}

// FetchList returns the accumulated list at url, walking pages until the
// minimum result requirement (default: the first page) is satisfied.
func (c *Client) FetchList(ctx context.Context, url string, opts QueryOptions) (*ResultList, error) {
	if err := validateQueryOptions(QueryList, opts); err != nil {
		return nil, err
	}
	absURL := c.canonical(url)
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}

	if q := c.table.find(QueryList, absURL, 0, opts); q != nil {
		objs, expired := q.cachedObjects()
		if expired {
			go c.refreshListBackground(q)
		}
		return objs, nil
	}

	q := &Query{Type: QueryList, URL: absURL, Options: opts, NextURL: absURL, NextPage: 1, Objects: &ResultList{}}
	c.table.insertFront(q)
	return c.fetchNextPage(ctx, q)
}

func noopMore(rl *ResultList) func(context.Context) (*ResultList, error) {
	return func(context.Context) (*ResultList, error) { return rl, nil }
}

// fetchNextPage performs one page-walk step for q, recursing while the
// configured minimum has not been met and the server reports more pages.
func (c *Client) fetchNextPage(ctx context.Context, q *Query) (*ResultList, error) {
	fetchURL := q.NextURL
	if fetchURL == "" {
		fetchURL = q.URL
	}
	raw, err := c.transport.get(ctx, fetchURL)
	if err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case []any:
		items := objectutil.Dedupe(toObjects(v))
		q.mu.Lock()
		q.Objects.Items = items
		q.Objects.Total = len(items)
		q.Objects.More = noopMore(q.Objects)
		q.NextURL = ""
		q.Time = time.Now()
		objs := q.Objects
		q.mu.Unlock()
		return objs, nil
	default:
		items, total, next := decodeCollection(raw)
		q.mu.Lock()
		merged := objectutil.Dedupe(append(append([]map[string]any{}, q.Objects.Items...), items...))
		q.Objects.Items = merged
		q.Objects.Total = total
		q.NextURL = next
		q.NextPage++
		q.Time = time.Now()
		if next == "" {
			q.Objects.More = noopMore(q.Objects)
		} else {
			q.Objects.More = c.moreFunc(q)
		}
		objs := q.Objects
		q.mu.Unlock()

		if next == "" {
			return objs, nil
		}

		min := getMinimum(q.Options.Minimum, total, len(merged))
		if len(merged) < min {
			return c.fetchNextPage(ctx, q)
		}
		return objs, nil
	}
}

// moreFunc returns q's paginated continuation, coalescing concurrent
// callers behind q's own nextPromise.
func (c *Client) moreFunc(q *Query) func(context.Context) (*ResultList, error) {
	return func(ctx context.Context) (*ResultList, error) {
		q.mu.Lock()
		if q.nextPromise != nil {
			d := q.nextPromise
			q.mu.Unlock()
			return d.Wait(ctx)
		}
		d := event.NewDeferred[*ResultList]()
		q.nextPromise = d
		q.mu.Unlock()

		rl, err := c.fetchNextPage(ctx, q)

		q.mu.Lock()
		q.nextPromise = nil
		q.mu.Unlock()

		if err != nil {
			d.Reject(err)
			return nil, err
		}
		d.Resolve(rl)
		return rl, nil
	}
}

// FetchMultiple resolves objects by absolute URL, returning a fully
// synchronous result once at least the configured minimum are already
// cached, and otherwise blocking on the missing ones. Once the minimum is
// already met, remaining fetches continue in the background and a Change
// event announces their arrival.
func (c *Client) FetchMultiple(ctx context.Context, urls []string, opts QueryOptions) ([]map[string]any, error) {
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}

	abs := make([]string, len(urls))
	results := make([]map[string]any, len(urls))
	var missing []int
	for i, u := range urls {
		abs[i] = c.canonical(u)
		if q := c.table.find(QueryObject, abs[i], 0, QueryOptions{}); q != nil {
			results[i], _ = q.cachedObject()
		} else {
			missing = append(missing, i)
		}
	}

	cached := len(urls) - len(missing)
	min := getMinimum(opts.Minimum, len(urls), len(urls))
	if cached >= min {
		if len(missing) > 0 {
			// results has already been handed back to the caller; the
			// background fill must never write into it. It fetches into
			// its own copy solely to decide whether anything arrived.
			background := append([]map[string]any(nil), results...)
			go func() {
				_ = c.fillMissing(context.Background(), abs, missing, background)
				c.events.Emit(event.Change, nil)
			}()
		}
		return results, nil
	}

	if err := c.fillMissing(ctx, abs, missing, results); err != nil {
		return nil, err
	}
	return results, nil
}

// fillMissing fetches abs[i] for each i in missing, in parallel, writing
// each result into results[i]. Callers must own results exclusively for
// the duration of the call: nothing else may read or write it until
// fillMissing returns.
func (c *Client) fillMissing(ctx context.Context, abs []string, missing []int, results []map[string]any) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, idx := range missing {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			obj, err := c.FetchOne(ctx, abs[i], QueryOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[i] = obj
		}(idx)
	}
	wg.Wait()
	return firstErr
}
