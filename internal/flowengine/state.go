// Package flowengine executes AgentFlow graphs: branching, parallel
// fan-out/join, interrupts, retries and checkpointing over a shared JSON
// state object. Grounded on original_source aof-core/src/{workflow,
// agentflow}.rs for field names and node semantics, executed with the
// teacher's goroutine+channel/sync.WaitGroup fan-out idiom from
// internal/agent/executor.go's ExecuteAll.
package flowengine

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// State is the JSON object a flow run threads through every node.
type State map[string]any

// Clone returns a shallow copy of s, safe for a branch runner to mutate
// independently of its siblings.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

var interpPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_.]+)\}`)

// Interpolate replaces every ${var} reference in tmpl with its stringified
// value from state. An unresolved reference is left verbatim.
func Interpolate(tmpl string, state State) string {
	return interpPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[2 : len(match)-1]
		v, ok := lookupPath(state, key)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

func lookupPath(state State, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = map[string]any(state)
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			if asState, ok2 := cur.(State); ok2 {
				m = map[string]any(asState)
			} else {
				return nil, false
			}
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return toJSONString(v)
	}
}

// applyReducer writes value under key in state according to the reducer
// declared for key in reducers, or a plain replace if none is declared.
func applyReducer(state State, key string, value any, reducers map[string]aoftypes.StateReducer) {
	reducer, ok := reducers[key]
	if !ok {
		state[key] = value
		return
	}

	existing, had := state[key]
	switch reducer.Type {
	case aoftypes.ReducerAppend:
		list, _ := existing.([]any)
		if !had {
			list = nil
		}
		state[key] = append(list, value)
	case aoftypes.ReducerMerge:
		merged := map[string]any{}
		if m, ok := existing.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
		state[key] = merged
	case aoftypes.ReducerSum:
		state[key] = toFloat(existing) + toFloat(value)
	default: // ReducerReplace and anything unrecognized
		state[key] = value
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}
