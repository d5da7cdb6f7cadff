package flowengine

import (
	"testing"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

func TestInterpolateResolvesNestedPath(t *testing.T) {
	state := State{"user": map[string]any{"name": "ava"}, "count": float64(3)}
	got := Interpolate("hello ${user.name}, count=${count}", state)
	if got != "hello ava, count=3" {
		t.Fatalf("got %q", got)
	}
}

func TestInterpolateLeavesUnresolvedPathAlone(t *testing.T) {
	got := Interpolate("${missing.key}", State{})
	if got != "${missing.key}" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyReducerAppend(t *testing.T) {
	state := State{}
	reducers := map[string]aoftypes.StateReducer{"log": {Type: aoftypes.ReducerAppend}}
	applyReducer(state, "log", "a", reducers)
	applyReducer(state, "log", "b", reducers)
	list, ok := state["log"].([]any)
	if !ok || len(list) != 2 || list[0] != "a" || list[1] != "b" {
		t.Fatalf("got %#v", state["log"])
	}
}

func TestApplyReducerMerge(t *testing.T) {
	state := State{"cfg": map[string]any{"a": 1}}
	reducers := map[string]aoftypes.StateReducer{"cfg": {Type: aoftypes.ReducerMerge}}
	applyReducer(state, "cfg", map[string]any{"b": 2}, reducers)
	merged := state["cfg"].(map[string]any)
	if merged["a"] != 1 || merged["b"] != 2 {
		t.Fatalf("got %#v", merged)
	}
}

func TestApplyReducerSum(t *testing.T) {
	state := State{"total": float64(2)}
	reducers := map[string]aoftypes.StateReducer{"total": {Type: aoftypes.ReducerSum}}
	applyReducer(state, "total", float64(3), reducers)
	if state["total"].(float64) != 5 {
		t.Fatalf("got %#v", state["total"])
	}
}

func TestApplyReducerDefaultReplaces(t *testing.T) {
	state := State{"x": "old"}
	applyReducer(state, "x", "new", nil)
	if state["x"] != "new" {
		t.Fatalf("got %#v", state["x"])
	}
}
