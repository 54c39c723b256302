package restcache

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/relaycache/go-restcache/internal/objectutil"
	"github.com/relaycache/go-restcache/internal/urlutil"
	"github.com/relaycache/go-restcache/restcache/event"
)

// writeOutcome is one object's result from a parallel write: either a
// server-returned object, a rejection (404/409/410 — the entity no longer
// matches server state), or a hard error.
type writeOutcome struct {
	input    map[string]any
	result   map[string]any
	rejected bool
	err      error
}

func isReject(status int) bool {
	return status == http.StatusNotFound || status == http.StatusConflict || status == http.StatusGone
}

// splitError reports the HTTP status of err when it is a restcache *Error
// of kind ErrHTTP, so callers can distinguish a reject from a hard failure.
func splitError(err error) (status int, ok bool) {
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Kind == ErrHTTP {
		return rerr.Status, true
	}
	return 0, false
}

// runParallel performs perform(ctx, objects[i]) for every object
// concurrently, matching the "POST/PUT/DELETE each object in parallel"
// propagation entry point.
func runParallel(ctx context.Context, objects []map[string]any, perform func(ctx context.Context, obj map[string]any) (map[string]any, error)) []writeOutcome {
	outcomes := make([]writeOutcome, len(objects))
	var wg sync.WaitGroup
	for i, obj := range objects {
		wg.Add(1)
		go func(i int, obj map[string]any) {
			defer wg.Done()
			res, err := perform(ctx, obj)
			o := writeOutcome{input: obj, result: res}
			if err != nil {
				if status, ok := splitError(err); ok && isReject(status) {
					o.rejected = true
				} else {
					o.err = err
				}
			}
			outcomes[i] = o
		}(i, obj)
	}
	wg.Wait()
	return outcomes
}

// collectBatchError builds the *Error a batch write returns when any
// object hard-failed, carrying every object's result/error side by side so
// callers see the complete partial outcome.
func collectBatchError(outcomes []writeOutcome) error {
	results := make([]map[string]any, len(outcomes))
	errs := make([]error, len(outcomes))
	var first error
	for i, o := range outcomes {
		results[i] = o.result
		errs[i] = o.err
		if o.err != nil && first == nil {
			first = o.err
		}
	}
	if first == nil {
		return nil
	}
	return &Error{Kind: ErrTransport, Err: first, Results: results, Errors: errs}
}

// opGroup is one folder's worth of results/rejects from a batch write,
// the unit the propagation walk is driven by.
type opGroup struct {
	folder  string
	results []map[string]any
	rejects []map[string]any
}

func groupByFolder(outcomes []writeOutcome, folderOf func(writeOutcome) string) []opGroup {
	index := map[string]*opGroup{}
	var order []string
	for _, o := range outcomes {
		folder := folderOf(o)
		g, ok := index[folder]
		if !ok {
			g = &opGroup{folder: folder}
			index[folder] = g
			order = append(order, folder)
		}
		switch {
		case o.rejected:
			g.rejects = append(g.rejects, o.input)
		case o.err == nil && o.result != nil:
			g.results = append(g.results, o.result)
		}
	}
	groups := make([]opGroup, len(order))
	for i, f := range order {
		groups[i] = *index[f]
	}
	return groups
}

// propagate walks every query in g's folder except origin, applying the
// appropriate hook for op ("insert", "update", "delete").
func (c *Client) propagate(g opGroup, op string, origin *Query) {
	if len(g.results) == 0 && len(g.rejects) == 0 {
		return
	}
	changed := false
	var toRemove []*Query
	for _, q := range c.table.snapshot() {
		if q == origin {
			continue
		}
		qFolder := urlutil.Folder(q.URL)
		if q.Type == QueryPage || q.Type == QueryList {
			qFolder = urlutil.StripQuery(q.URL)
		}
		if qFolder != g.folder {
			continue
		}
		switch q.Type {
		case QueryObject:
			removed, qChanged := c.applyObjectPropagation(q, g, op)
			if qChanged {
				changed = true
			}
			if removed {
				toRemove = append(toRemove, q)
			}
		case QueryPage, QueryList:
			if c.applyListPropagation(q, g, op) {
				changed = true
			}
		}
	}
	c.table.removeAll(toRemove)
	if changed || len(toRemove) > 0 {
		c.events.Emit(event.Change, nil)
	}
}

// applyObjectPropagation applies op's write result to q, returning whether
// q should be dropped from the table entirely (only ever true for a delete
// whose resolved hook actually means removal — Ignore/Refresh/Custom-no-op
// must leave q in place) and whether q's cached value changed. It holds
// q.mu for the whole operation so a concurrent background refresh of the
// same query can't interleave with it.
func (c *Client) applyObjectPropagation(q *Query, g opGroup, op string) (removed, changed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx := objectutil.FindIndex(g.rejects, q.Object); idx >= 0 {
		q.Expired = true
		return false, true
	}
	idx := objectutil.FindIndex(g.results, q.Object)
	if idx < 0 {
		return false, false
	}
	matched := g.results[idx]
	switch op {
	case "insert":
		return false, false
	case "update":
		if objectutil.Equal(q.Object, matched) {
			return false, false
		}
		hook := resolveHook(q.Options.AfterUpdate, QueryObject, "update")
		return false, applyObjectHook(q, hook, matched, &c.logger)
	case "delete":
		hook := resolveHook(q.Options.AfterDelete, QueryObject, "delete")
		if hook.Kind == HookRemove {
			return true, true
		}
		return false, applyObjectHook(q, hook, matched, &c.logger)
	default:
		return false, false
	}
}

// applyListPropagation applies op's write result to q under q.mu, for the
// same reason applyObjectPropagation does.
func (c *Client) applyListPropagation(q *Query, g opGroup, op string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(g.rejects) > 0 {
		q.Expired = true
	}
	if len(g.results) == 0 {
		return q.Expired
	}
	switch op {
	case "insert":
		subset := onlyAbsent(q.Objects.Items, g.results)
		if len(subset) == 0 {
			return q.Expired
		}
		hook := resolveHook(q.Options.AfterInsert, q.Type, "insert")
		return applyListHook(q, hook, subset, &c.logger) || q.Expired
	case "update":
		subset := differing(q.Objects.Items, g.results)
		if len(subset) == 0 {
			return q.Expired
		}
		hook := resolveHook(q.Options.AfterUpdate, q.Type, "update")
		return applyListHook(q, hook, subset, &c.logger) || q.Expired
	case "delete":
		subset := matching(q.Objects.Items, g.results)
		if len(subset) == 0 {
			return q.Expired
		}
		hook := resolveHook(q.Options.AfterDelete, q.Type, "delete")
		return applyListHook(q, hook, subset, &c.logger) || q.Expired
	default:
		return q.Expired
	}
}

// differing returns the subset of candidates that match an existing item
// by identity but differ from it structurally.
func differing(existing, candidates []map[string]any) []map[string]any {
	var out []map[string]any
	for _, c := range candidates {
		if idx := objectutil.FindIndex(existing, c); idx >= 0 && !objectutil.Equal(existing[idx], c) {
			out = append(out, c)
		}
	}
	return out
}

// matching returns the subset of candidates present in existing by
// identity.
func matching(existing, candidates []map[string]any) []map[string]any {
	var out []map[string]any
	for _, c := range candidates {
		if objectutil.FindIndex(existing, c) >= 0 {
			out = append(out, c)
		}
	}
	return out
}

// InsertMultiple POSTs each object to folderURL in parallel, inserts a
// fresh object query for every created object, and propagates afterInsert
// to every other cached query in the same folder.
func (c *Client) InsertMultiple(ctx context.Context, folderURL string, objects []map[string]any, opts QueryOptions) ([]map[string]any, error) {
	if err := validateQueryOptions(QueryObject, opts); err != nil {
		return nil, err
	}
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}
	folder := c.canonical(folderURL)

	outcomes := runParallel(ctx, objects, func(ctx context.Context, obj map[string]any) (map[string]any, error) {
		raw, err := c.transport.post(ctx, folder, obj)
		if err != nil {
			return nil, err
		}
		created, _ := raw.(map[string]any)
		return created, nil
	})

	for _, o := range outcomes {
		if o.result != nil {
			q := &Query{Type: QueryObject, URL: urlutil.ObjectURL(folder, o.result), Object: o.result, Options: opts}
			c.table.insertFront(q)
		}
	}

	groups := groupByFolder(outcomes, func(writeOutcome) string { return folder })
	for _, g := range groups {
		c.propagate(g, "insert", nil)
	}

	results := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.result
	}
	return results, collectBatchError(outcomes)
}

func objURL(obj map[string]any) string {
	if u, ok := obj["url"].(string); ok {
		return u
	}
	return ""
}

// UpdateMultiple PUTs each object to its own URL in parallel, replaces the
// matching object query in place, and propagates afterUpdate to every
// other cached query in the same folder.
func (c *Client) UpdateMultiple(ctx context.Context, objects []map[string]any, opts QueryOptions) ([]map[string]any, error) {
	if err := validateQueryOptions(QueryObject, opts); err != nil {
		return nil, err
	}
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return nil, err
	}

	outcomes := runParallel(ctx, objects, func(ctx context.Context, obj map[string]any) (map[string]any, error) {
		url := c.canonical(objURL(obj))
		raw, err := c.transport.put(ctx, url, obj)
		if err != nil {
			return nil, err
		}
		updated, _ := raw.(map[string]any)
		if updated == nil {
			updated = obj
		}
		return updated, nil
	})

	groups := groupByFolder(outcomes, func(o writeOutcome) string {
		return urlutil.Folder(c.canonical(objURL(o.input)))
	})
	for _, g := range groups {
		c.propagate(g, "update", nil)
	}

	results := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.result
	}
	return results, collectBatchError(outcomes)
}

// DeleteMultiple DELETEs each object at its own URL in parallel, removes
// the matching object query, and propagates afterDelete to every other
// cached query in the same folder.
func (c *Client) DeleteMultiple(ctx context.Context, objects []map[string]any, opts QueryOptions) error {
	if err := validateQueryOptions(QueryObject, opts); err != nil {
		return err
	}
	if err := c.lifecycle.WaitForActivation(ctx); err != nil {
		return err
	}

	outcomes := runParallel(ctx, objects, func(ctx context.Context, obj map[string]any) (map[string]any, error) {
		url := c.canonical(objURL(obj))
		if _, err := c.transport.delete(ctx, url); err != nil {
			return nil, err
		}
		return obj, nil
	})

	groups := groupByFolder(outcomes, func(o writeOutcome) string {
		return urlutil.Folder(c.canonical(objURL(o.input)))
	})

	for _, g := range groups {
		c.propagate(g, "delete", nil)
	}

	return collectBatchError(outcomes)
}
