package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Scope holds the variables visible to $(...) expressions for one shard.
type Scope struct {
	Name   string         // manifest name
	Job    string         // job name
	Shard  int            // zero-based shard index
	Shards int            // total shards of the job
	Vars   map[string]any // manifest-level vars
}

// Evaluator expands $(...) JavaScript expressions embedded in strings.
type Evaluator struct {
	lib []string
}

// NewEvaluator returns an Evaluator that runs lib before every evaluation.
func NewEvaluator(lib []string) *Evaluator {
	return &Evaluator{lib: lib}
}

func (e *Evaluator) vm(scope Scope) (*goja.Runtime, error) {
	vm := goja.New()
	for i, src := range e.lib {
		if _, err := vm.RunString(src); err != nil {
			return nil, fmt.Errorf("expression_lib[%d]: %w", i, err)
		}
	}

	vars := scope.Vars
	if vars == nil {
		vars = map[string]any{}
	}
	for k, v := range map[string]any{
		"name":   scope.Name,
		"job":    scope.Job,
		"shard":  scope.Shard,
		"shards": scope.Shards,
		"vars":   vars,
	} {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return vm, nil
}

// Value evaluates s. A string that is exactly one expression yields the
// expression's typed result; anything else yields an interpolated string.
// \$( escapes a literal $(.
func (e *Evaluator) Value(s string, scope Scope) (any, error) {
	matches := findExpressions(s)
	if len(matches) == 0 {
		return unescape(s), nil
	}

	vm, err := e.vm(scope)
	if err != nil {
		return nil, err
	}

	if len(matches) == 1 && matches[0].start == 0 && matches[0].end == len(s) {
		return run(vm, matches[0].code)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(unescape(s[last:m.start]))
		v, err := run(vm, m.code)
		if err != nil {
			return nil, err
		}
		b.WriteString(toString(v))
		last = m.end
	}
	b.WriteString(unescape(s[last:]))
	return b.String(), nil
}

// String evaluates s and renders the result as a string.
func (e *Evaluator) String(s string, scope Scope) (string, error) {
	v, err := e.Value(s, scope)
	if err != nil {
		return "", err
	}
	return toString(v), nil
}

func run(vm *goja.Runtime, code string) (any, error) {
	if strings.HasPrefix(strings.TrimSpace(code), "{") {
		code = "(" + code + ")"
	}
	val, err := vm.RunString(code)
	if err != nil {
		return nil, fmt.Errorf("expression $(%s): %w", code, err)
	}
	if goja.IsUndefined(val) {
		return nil, fmt.Errorf("expression $(%s) is undefined", code)
	}
	return val.Export(), nil
}

type exprMatch struct {
	start, end int
	code       string
}

// findExpressions locates unescaped $(...) spans with balanced parentheses.
// Parentheses inside JS string literals do not count.
func findExpressions(s string) []exprMatch {
	var matches []exprMatch
	for i := 0; i < len(s)-1; i++ {
		if s[i] != '$' || s[i+1] != '(' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		depth := 1
		j := i + 2
		var quote byte
		for j < len(s) && depth > 0 {
			c := s[j]
			switch {
			case quote != 0:
				if c == '\\' {
					j++
				} else if c == quote {
					quote = 0
				}
			case c == '"' || c == '\'' || c == '`':
				quote = c
			case c == '(':
				depth++
			case c == ')':
				depth--
			}
			j++
		}
		if depth != 0 {
			break
		}
		matches = append(matches, exprMatch{start: i, end: j, code: s[i+2 : j-1]})
		i = j - 1
	}
	return matches
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\$(`, "$(")
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
