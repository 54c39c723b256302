package restcache

import (
	"context"
	"time"

	"github.com/relaycache/go-restcache/internal/objectutil"
	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// refreshOneBackground re-fetches an expired object query without blocking
// any caller. It fires Change only if the refetched value actually differs.
func (c *Client) refreshOneBackground(url string, q *Query) {
	if !q.beginRefresh() {
		return
	}
	defer q.endRefresh()

	raw, err := c.transport.getFresh(context.Background(), url)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("background object refresh failed")
		return
	}
	obj, _ := raw.(map[string]any)

	q.mu.Lock()
	changed := !objectutil.Equal(q.Object, obj)
	q.Object = obj
	q.Time = time.Now()
	q.Expired = false
	q.mu.Unlock()

	if changed {
		c.events.Emit(event.Change, nil)
	}
}

// refreshPageBackground re-fetches an expired page query, replacing
// changed entries in place, then evicts expired sibling pages of the same
// list and schedules their re-fetch a second later.
func (c *Client) refreshPageBackground(baseURL string, page int, q *Query) {
	if !q.beginRefresh() {
		return
	}
	defer q.endRefresh()

	raw, err := c.transport.getFresh(context.Background(), urlutil.AttachPageNumber(baseURL, page))
	if err != nil {
		c.logger.Debug().Err(err).Str("url", baseURL).Int("page", page).Msg("background page refresh failed")
		return
	}
	items, total, next := decodeCollection(raw)

	q.mu.Lock()
	fresh := objectutil.ReplaceIdentical(items, q.Objects.Items)
	q.Objects.Items = objectutil.MergeReplaced(items, q.Objects.Items)
	q.Objects.Total = total
	q.NextURL = next
	q.Time = time.Now()
	q.Expired = false
	q.mu.Unlock()

	if len(fresh) > 0 {
		c.events.Emit(event.Change, nil)
	}

	c.evictSiblingPages(baseURL, page)
}

func (c *Client) evictSiblingPages(baseURL string, exceptPage int) {
	evicted := c.table.evictSiblingPages(baseURL, exceptPage)
	for _, s := range evicted {
		page, opts := s.Page, s.Options
		time.AfterFunc(time.Second, func() {
			c.refetchPage(baseURL, page, opts)
		})
	}
}

func (c *Client) refetchPage(baseURL string, page int, opts QueryOptions) {
	raw, err := c.transport.getFresh(context.Background(), urlutil.AttachPageNumber(baseURL, page))
	if err != nil {
		c.logger.Debug().Err(err).Str("url", baseURL).Int("page", page).Msg("sibling page re-fetch failed")
		return
	}
	items, total, next := decodeCollection(raw)
	rl := &ResultList{Items: objectutil.Dedupe(items), Total: total}
	rl.More = noopMore(rl)
	q := &Query{Type: QueryPage, URL: baseURL, Page: page, Options: opts, Objects: rl, Time: time.Now(), NextURL: next}
	c.table.insertFront(q)
	c.events.Emit(event.Change, nil)
}

// refreshListBackground re-walks a paginated list query from the start,
// stitching the newly-walked prefix onto the previously known tail via
// JoinLists, or, for a fully-fetched (unpaginated) list, replaces changed
// entries in place. A concurrent more() call is allowed to finish first;
// any more() call that arrives during the refresh parks until it completes.
func (c *Client) refreshListBackground(q *Query) {
	if !q.beginRefresh() {
		return
	}
	defer q.endRefresh()

	ctx := context.Background()

	q.mu.Lock()
	unpaginated := q.NextURL == "" && q.NextPage <= 1
	q.mu.Unlock()

	if unpaginated {
		raw, err := c.transport.getFresh(ctx, q.URL)
		if err != nil {
			c.logger.Debug().Err(err).Str("url", q.URL).Msg("background list refresh failed")
			return
		}
		items, total, _ := decodeCollection(raw)

		q.mu.Lock()
		fresh := objectutil.ReplaceIdentical(items, q.Objects.Items)
		q.Objects.Items = objectutil.MergeReplaced(items, q.Objects.Items)
		q.Objects.Total = total
		q.Time = time.Now()
		q.Expired = false
		q.mu.Unlock()

		if len(fresh) > 0 {
			c.events.Emit(event.Change, nil)
		}
		return
	}

	q.mu.Lock()
	inFlight := q.nextPromise
	q.mu.Unlock()
	if inFlight != nil {
		inFlight.Wait(ctx)
	}

	parked := event.NewDeferred[*ResultList]()
	q.mu.Lock()
	q.nextPromise = parked
	oldItems := q.Objects.Items
	q.Objects.More = func(ctx context.Context) (*ResultList, error) {
		return parked.Wait(ctx)
	}
	q.mu.Unlock()

	walked, total, err := c.rewalkList(ctx, q.URL, len(oldItems))
	if err != nil {
		c.logger.Debug().Err(err).Str("url", q.URL).Msg("background list re-walk failed")
		q.mu.Lock()
		q.nextPromise = nil
		q.Objects.More = c.moreFunc(q)
		q.mu.Unlock()
		parked.Reject(err)
		return
	}

	q.mu.Lock()
	fresh := objectutil.ReplaceIdentical(walked, oldItems)
	rewalked := objectutil.MergeReplaced(walked, oldItems)
	merged := objectutil.JoinLists(rewalked, oldItems)
	q.Objects.Items = merged
	q.Objects.Total = total
	q.Time = time.Now()
	q.Expired = false
	q.nextPromise = nil
	q.Objects.More = c.moreFunc(q)
	resolved := q.Objects
	q.mu.Unlock()

	parked.Resolve(resolved)

	if len(fresh) > 0 {
		c.events.Emit(event.Change, nil)
	}
}

// rewalkList re-fetches pages from the start of a list, stopping once the
// server stops reporting a next page or the previously known depth is
// reached.
func (c *Client) rewalkList(ctx context.Context, baseURL string, depth int) ([]map[string]any, int, error) {
	var items []map[string]any
	total := 0
	next := baseURL
	for {
		raw, err := c.transport.getFresh(ctx, next)
		if err != nil {
			return nil, 0, err
		}
		pageItems, pageTotal, pageNext := decodeCollection(raw)
		items = objectutil.Dedupe(append(items, pageItems...))
		total = pageTotal
		if pageNext == "" || len(items) >= depth {
			return items, total, nil
		}
		next = pageNext
	}
}
