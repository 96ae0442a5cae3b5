package workflow

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Condition is a compiled `when` expression.
type Condition struct {
	source  string
	program *vm.Program
}

// CompileCondition compiles src. Variables that are not defined at
// evaluation time read as nil.
func CompileCondition(src string) (*Condition, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("conductor/workflow: compile %q: %w", src, err)
	}
	return &Condition{source: src, program: program}, nil
}

// String returns the source expression.
func (c *Condition) String() string { return c.source }

// Eval runs the condition against vars. A dotted name such as item.path
// is reachable as item.path and, flattened, as item_path. Use the
// flattened form when the first segment is an expr builtin (map_total).
func (c *Condition) Eval(vars map[string]string) (bool, error) {
	out, err := expr.Run(c.program, env(vars))
	if err != nil {
		return false, fmt.Errorf("conductor/workflow: eval %q: %w", c.source, err)
	}
	b, _ := out.(bool)
	return b, nil
}

// env nests dotted variable names into maps. A plain variable wins over a
// dotted one that would need it to be a map.
func env(vars map[string]string) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		if !strings.Contains(k, ".") {
			out[k] = v
		}
	}
	for k, v := range vars {
		if flat := strings.ReplaceAll(k, ".", "_"); flat != k {
			if _, taken := out[flat]; !taken {
				out[flat] = v
			}
		}
	}
	for k, v := range vars {
		parts := strings.Split(k, ".")
		if len(parts) < 2 {
			continue
		}
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				if _, taken := cur[p]; taken {
					cur = nil
					break
				}
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		if cur != nil {
			cur[parts[len(parts)-1]] = v
		}
	}
	return out
}
