package restcache

import "testing"

func TestResolveHookDefaults(t *testing.T) {
	cases := []struct {
		name  string
		qtype QueryType
		op    string
		want  HookKind
	}{
		{"insert object", QueryObject, "insert", HookRefresh},
		{"insert list", QueryList, "insert", HookRefresh},
		{"update object", QueryObject, "update", HookReplace},
		{"update list", QueryList, "update", HookRefresh},
		{"update page", QueryPage, "update", HookRefresh},
		{"delete object", QueryObject, "delete", HookRemove},
		{"delete list", QueryList, "delete", HookRemove},
		{"delete page", QueryPage, "delete", HookRefresh},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := resolveHook(Hook{}, c.qtype, c.op)
			if got.Kind != c.want {
				t.Errorf("resolveHook(unset, %v, %q) = %v, want %v", c.qtype, c.op, got.Kind, c.want)
			}
		})
	}
}

func TestResolveHookPreservesExplicitChoice(t *testing.T) {
	if got := resolveHook(Ignore, QueryObject, "update"); got.Kind != HookIgnore {
		t.Errorf("expected explicit hook to be preserved, got %v", got.Kind)
	}
}

func TestValidateHookForTypeRejectsListOnlyHooksOnObjects(t *testing.T) {
	if err := validateHookForType(QueryObject, Push, "afterInsert"); err == nil {
		t.Error("expected Push to be rejected for an object query")
	}
	if err := validateHookForType(QueryObject, Unshift, "afterInsert"); err == nil {
		t.Error("expected Unshift to be rejected for an object query")
	}
	if err := validateHookForType(QueryObject, Replace, "afterUpdate"); err != nil {
		t.Errorf("expected Replace to be valid for an object query, got %v", err)
	}
	if err := validateHookForType(QueryList, Push, "afterInsert"); err != nil {
		t.Errorf("expected Push to be valid for a list query, got %v", err)
	}
}

func TestApplyObjectHookReplace(t *testing.T) {
	q := &Query{Object: map[string]any{"id": float64(1), "name": "old"}}
	changed := applyObjectHook(q, Replace, map[string]any{"id": float64(1), "name": "new"}, nil)
	if !changed {
		t.Fatal("expected Replace to report a change")
	}
	if q.Object["name"] != "new" {
		t.Errorf("expected object to be replaced, got %+v", q.Object)
	}
}

func TestApplyObjectHookReplaceNoOpWhenIdentical(t *testing.T) {
	q := &Query{Object: map[string]any{"id": float64(1), "name": "same"}}
	changed := applyObjectHook(q, Replace, map[string]any{"id": float64(1), "name": "same"}, nil)
	if changed {
		t.Error("expected Replace to report no change for an identical object")
	}
}

func TestApplyObjectHookRefreshExpires(t *testing.T) {
	q := &Query{}
	changed := applyObjectHook(q, Refresh, map[string]any{"id": float64(1)}, nil)
	if !changed || !q.Expired {
		t.Error("expected Refresh to mark the query expired")
	}
}

func TestApplyObjectHookIgnore(t *testing.T) {
	q := &Query{Object: map[string]any{"id": float64(1), "name": "untouched"}}
	changed := applyObjectHook(q, Ignore, map[string]any{"id": float64(1), "name": "new"}, nil)
	if changed || q.Object["name"] != "untouched" {
		t.Error("expected Ignore to leave the query untouched")
	}
}

func TestApplyObjectHookCustom(t *testing.T) {
	q := &Query{Object: map[string]any{"id": float64(1), "name": "old"}}
	hook := CustomHook(func(cached any, input []map[string]any) (any, bool) {
		return map[string]any{"id": float64(1), "name": "custom"}, true
	})
	changed := applyObjectHook(q, hook, map[string]any{"id": float64(1)}, nil)
	if !changed || q.Object["name"] != "custom" {
		t.Errorf("expected custom hook result to apply, got %+v", q.Object)
	}
}

func TestApplyObjectHookCustomPanicMarksExpired(t *testing.T) {
	q := &Query{Object: map[string]any{"id": float64(1), "name": "old"}}
	hook := CustomHook(func(cached any, input []map[string]any) (any, bool) {
		panic("boom")
	})
	changed := applyObjectHook(q, hook, map[string]any{"id": float64(1)}, nil)
	if !changed || !q.Expired {
		t.Error("expected a panicking custom hook to be treated as mark-expired, not crash the caller")
	}
}

func TestApplyListHookPush(t *testing.T) {
	q := &Query{Objects: &ResultList{Items: []map[string]any{{"id": float64(1)}}, Total: 1}}
	changed := applyListHook(q, Push, []map[string]any{{"id": float64(2)}}, nil)
	if !changed {
		t.Fatal("expected Push to report a change")
	}
	if len(q.Objects.Items) != 2 || q.Objects.Items[1]["id"] != float64(2) {
		t.Errorf("expected new item appended at the tail, got %+v", q.Objects.Items)
	}
	if q.Objects.Total != 2 {
		t.Errorf("expected Total to track the push, got %d", q.Objects.Total)
	}
}

func TestApplyListHookPushSkipsAlreadyPresent(t *testing.T) {
	q := &Query{Objects: &ResultList{Items: []map[string]any{{"id": float64(1)}}, Total: 1}}
	changed := applyListHook(q, Push, []map[string]any{{"id": float64(1)}}, nil)
	if changed {
		t.Error("expected Push to no-op for an already-present item")
	}
}

func TestApplyListHookUnshift(t *testing.T) {
	q := &Query{Objects: &ResultList{Items: []map[string]any{{"id": float64(1)}}, Total: 1}}
	changed := applyListHook(q, Unshift, []map[string]any{{"id": float64(2)}}, nil)
	if !changed || q.Objects.Items[0]["id"] != float64(2) {
		t.Errorf("expected new item prepended at the head, got %+v", q.Objects.Items)
	}
}

func TestApplyListHookRemove(t *testing.T) {
	q := &Query{Objects: &ResultList{
		Items: []map[string]any{{"id": float64(1)}, {"id": float64(2)}},
		Total: 2,
	}}
	changed := applyListHook(q, Remove, []map[string]any{{"id": float64(1)}}, nil)
	if !changed {
		t.Fatal("expected Remove to report a change")
	}
	if len(q.Objects.Items) != 1 || q.Objects.Items[0]["id"] != float64(2) {
		t.Errorf("expected matching item removed, got %+v", q.Objects.Items)
	}
	if q.Objects.Total != 1 {
		t.Errorf("expected Total to track the removal, got %d", q.Objects.Total)
	}
}

func TestApplyListHookReplace(t *testing.T) {
	q := &Query{Objects: &ResultList{
		Items: []map[string]any{{"id": float64(1), "name": "old"}},
	}}
	changed := applyListHook(q, Replace, []map[string]any{{"id": float64(1), "name": "new"}}, nil)
	if !changed || q.Objects.Items[0]["name"] != "new" {
		t.Errorf("expected matching item replaced in place, got %+v", q.Objects.Items)
	}
}

func TestApplyListHookRefresh(t *testing.T) {
	q := &Query{Objects: &ResultList{Items: []map[string]any{{"id": float64(1)}}}}
	changed := applyListHook(q, Refresh, []map[string]any{{"id": float64(1)}}, nil)
	if !changed || !q.Expired {
		t.Error("expected Refresh to mark the query expired")
	}
}

func TestApplyListHookCustomPanicMarksExpired(t *testing.T) {
	q := &Query{Objects: &ResultList{Items: []map[string]any{{"id": float64(1)}}}}
	hook := CustomHook(func(cached any, input []map[string]any) (any, bool) {
		panic("boom")
	})
	changed := applyListHook(q, hook, []map[string]any{{"id": float64(1)}}, nil)
	if !changed || !q.Expired {
		t.Error("expected a panicking custom hook to be treated as mark-expired, not crash the caller")
	}
}
