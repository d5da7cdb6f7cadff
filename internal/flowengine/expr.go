package flowengine

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
)

// evalExpr compiles and runs script against state, returning the raw
// result. Used by Transform nodes (script) and connection/Conditional
// gating (condition, when).
func evalExpr(script string, state State) (any, error) {
	program, err := expr.Compile(script, expr.Env(map[string]any(state)))
	if err != nil {
		return nil, fmt.Errorf("flowengine: compile expression %q: %w", script, err)
	}
	out, err := expr.Run(program, map[string]any(state))
	if err != nil {
		return nil, fmt.Errorf("flowengine: evaluate expression %q: %w", script, err)
	}
	return out, nil
}

// evalBool evaluates script against state and coerces the result to a
// bool the way a `when`/`condition` gate expects: non-zero numbers, a
// non-empty string equal to "true", and bool true all count as true.
func evalBool(script string, state State) (bool, error) {
	out, err := evalExpr(script, state)
	if err != nil {
		return false, err
	}
	switch v := out.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true", nil
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	default:
		return out != nil, nil
	}
}

func toJSONString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
