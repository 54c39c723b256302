package restcache

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycache/go-restcache/internal/objectutil"
)

// HookKind is the tag of the Hook sum type: the set of recognized write
// propagation policies a query can be configured with.
type HookKind int

const (
	hookUnset HookKind = iota
	HookRefresh
	HookIgnore
	HookReplace
	HookUnshift
	HookPush
	HookRemove
	HookCustom
)

// Hook is a per-query write-propagation policy, modeled as a tagged sum
// rather than the string-or-function polymorphism recognized options
// otherwise imply: a fixed Kind for the built-in behaviors, or HookCustom
// with Fn set for caller-supplied logic.
//
// Fn receives the query's current cached value (map[string]any for an
// object query, *ResultList for a page/list query) and the subset of
// written objects relevant to this write (matched-and-differing for
// updates, matched for deletes, not-yet-present for inserts). It returns
// the replacement value and whether anything changed; the replacement's
// concrete type must match what it received (map[string]any or
// []map[string]any for list/page queries, bool to just toggle Expired).
type Hook struct {
	Kind HookKind
	Fn   func(cached any, input []map[string]any) (result any, changed bool)
}

var (
	// Refresh marks the query expired so the next read triggers a
	// background refetch.
	Refresh = Hook{Kind: HookRefresh}
	// Ignore leaves the query untouched.
	Ignore = Hook{Kind: HookIgnore}
	// Replace substitutes matching entries in place.
	Replace = Hook{Kind: HookReplace}
	// Unshift prepends not-yet-present entries (list/page queries only).
	Unshift = Hook{Kind: HookUnshift}
	// Push appends not-yet-present entries (list/page queries only).
	Push = Hook{Kind: HookPush}
	// Remove drops matching entries (list/page), or marks the query for
	// removal from the table (object queries).
	Remove = Hook{Kind: HookRemove}
)

// CustomHook builds a Hook that defers to fn.
func CustomHook(fn func(cached any, input []map[string]any) (result any, changed bool)) Hook {
	return Hook{Kind: HookCustom, Fn: fn}
}

func resolveHook(h Hook, qtype QueryType, op string) Hook {
	if h.Kind != hookUnset {
		return h
	}
	switch op {
	case "insert":
		return Refresh
	case "update":
		if qtype == QueryObject {
			return Replace
		}
		return Refresh
	case "delete":
		if qtype == QueryPage {
			return Refresh
		}
		return Remove
	default:
		return Refresh
	}
}

func validateHookForType(qtype QueryType, h Hook, field string) error {
	if qtype != QueryObject {
		return nil
	}
	switch h.Kind {
	case HookUnshift, HookPush:
		return &Error{Kind: ErrHook, Err: fmt.Errorf("restcache: %s hook is not valid for object queries", field)}
	}
	return nil
}

func validateQueryOptions(qtype QueryType, opts QueryOptions) error {
	if err := validateHookForType(qtype, opts.AfterInsert, "afterInsert"); err != nil {
		return err
	}
	if err := validateHookForType(qtype, opts.AfterUpdate, "afterUpdate"); err != nil {
		return err
	}
	if err := validateHookForType(qtype, opts.AfterDelete, "afterDelete"); err != nil {
		return err
	}
	return nil
}

// callHookFn invokes fn under recover. A panic is logged and reported to
// the caller as "mark expired" (changed=true, result=true) rather than
// crashing the calling goroutine.
func callHookFn(logger *zerolog.Logger, fn func(cached any, input []map[string]any) (any, bool), cached any, input []map[string]any) (result any, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error().Interface("panic", r).Msg("restcache: custom hook panicked, marking query expired")
			}
			result, changed = true, true
		}
	}()
	return fn(cached, input)
}

// applyObjectHook mutates q per hook. Callers touching a query already
// live in the table (as opposed to one just constructed and not yet
// inserted) must hold q.mu across the call.
func applyObjectHook(q *Query, hook Hook, obj map[string]any, logger *zerolog.Logger) bool {
	switch hook.Kind {
	case HookIgnore:
		return false
	case HookRefresh, HookRemove:
		q.Expired = true
		return true
	case HookReplace:
		if !objectutil.Equal(q.Object, obj) {
			q.Object = obj
			q.Time = time.Now()
			return true
		}
		return false
	case HookCustom:
		result, changed := callHookFn(logger, hook.Fn, q.Object, []map[string]any{obj})
		if !changed {
			return false
		}
		switch v := result.(type) {
		case bool:
			if v {
				q.Expired = true
			}
			return v
		case map[string]any:
			q.Object = v
			q.Time = time.Now()
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// applyListHook mutates q per hook; the same locking obligation as
// applyObjectHook applies.
func applyListHook(q *Query, hook Hook, input []map[string]any, logger *zerolog.Logger) bool {
	switch hook.Kind {
	case HookIgnore:
		return false
	case HookRefresh:
		q.Expired = true
		return true
	case HookReplace:
		changed := false
		items := q.Objects.Items
		for _, in := range input {
			if idx := objectutil.FindIndex(items, in); idx >= 0 && !objectutil.Equal(items[idx], in) {
				items[idx] = in
				changed = true
			}
		}
		if changed {
			q.Time = time.Now()
		}
		return changed
	case HookUnshift:
		fresh := onlyAbsent(q.Objects.Items, input)
		if len(fresh) == 0 {
			return false
		}
		q.Objects.Items = append(append([]map[string]any{}, fresh...), q.Objects.Items...)
		q.Objects.Total += len(fresh)
		q.Time = time.Now()
		return true
	case HookPush:
		fresh := onlyAbsent(q.Objects.Items, input)
		if len(fresh) == 0 {
			return false
		}
		q.Objects.Items = append(append([]map[string]any{}, q.Objects.Items...), fresh...)
		q.Objects.Total += len(fresh)
		q.Time = time.Now()
		return true
	case HookRemove:
		before := len(q.Objects.Items)
		q.Objects.Items = removeMatching(q.Objects.Items, input)
		removed := before - len(q.Objects.Items)
		if removed == 0 {
			return false
		}
		q.Objects.Total -= removed
		q.Time = time.Now()
		return true
	case HookCustom:
		result, changed := callHookFn(logger, hook.Fn, q.Objects, input)
		if !changed {
			return false
		}
		switch v := result.(type) {
		case bool:
			if v {
				q.Expired = true
			}
			return v
		case []map[string]any:
			q.Objects.Total += len(v) - len(q.Objects.Items)
			q.Objects.Items = v
			q.Time = time.Now()
			return true
		default:
			return false
		}
	default:
		return false
	}
}

func onlyAbsent(existing, candidates []map[string]any) []map[string]any {
	var out []map[string]any
	for _, c := range candidates {
		if objectutil.FindIndex(existing, c) < 0 {
			out = append(out, c)
		}
	}
	return out
}

func removeMatching(list, remove []map[string]any) []map[string]any {
	out := list[:0:0]
	for _, item := range list {
		if objectutil.FindIndex(remove, item) >= 0 {
			continue
		}
		out = append(out, item)
	}
	return out
}
