package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Value(t *testing.T) {
	eval := NewEvaluator([]string{`function pad(n, w) { var s = "" + n; while (s.length < w) s = "0" + s; return s; }`})
	scope := Scope{
		Name:   "no2",
		Job:    "samples",
		Shard:  3,
		Shards: 8,
		Vars:   map[string]any{"bucket": "gs://exports", "year": 2020},
	}

	tests := []struct {
		name string
		in   string
		want any
	}{
		{"literal", "plain text", "plain text"},
		{"escaped", `cost \$(5)`, "cost $(5)"},
		{"sole number", "$(shard)", int64(3)},
		{"sole arithmetic", "$(shard * 2 + 1)", int64(7)},
		{"interpolated", "$(job)-$(shard)-of-$(shards)", "samples-3-of-8"},
		{"vars", "$(vars.bucket)/$(vars.year)/$(name)", "gs://exports/2020/no2"},
		{"expression lib", "part-$(pad(shard, 4))", "part-0003"},
		{"nested parens", "$((shard + 1) * (shards - 1))", int64(28)},
		{"object", "$({first: shard === 0})", map[string]any{"first": false}},
		{"bool", "$(shard === shards - 5)", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.Value(tt.in, scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_String(t *testing.T) {
	eval := NewEvaluator(nil)
	got, err := eval.String("$(shard)", Scope{Shard: 2, Shards: 4})
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	got, err = eval.String("$([shard, shards])", Scope{Shard: 2, Shards: 4})
	require.NoError(t, err)
	assert.Equal(t, "[2,4]", got)
}

func TestEvaluator_Errors(t *testing.T) {
	eval := NewEvaluator(nil)
	for _, in := range []string{"$(nope.field)", "$(vars.missing)", "$(shard +)"} {
		_, err := eval.Value(in, Scope{Shards: 1})
		assert.Error(t, err, in)
	}

	_, err := NewEvaluator([]string{"function ("}).Value("$(1)", Scope{})
	assert.ErrorContains(t, err, "expression_lib[0]")
}

func TestFindExpressions_Unbalanced(t *testing.T) {
	assert.Empty(t, findExpressions("$(shard"))
	assert.Len(t, findExpressions("a $(x) b $(y"), 1)
}

func TestFindExpressions_QuotedParens(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`$("a)")`, `"a)"`},
		{`$('(' + shard)`, `'(' + shard`},
		{"$(`x)${shard}`)", "`x)${shard}`"},
		{`$("say \"hi)\"")`, `"say \"hi)\""`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := findExpressions(tt.in)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].code)
			assert.Equal(t, len(tt.in), got[0].end)
		})
	}
}

func TestEvaluator_QuotedParens(t *testing.T) {
	eval := NewEvaluator(nil)
	got, err := eval.String(`part-$("a)" + shard)-x`, Scope{Shard: 1, Shards: 2})
	require.NoError(t, err)
	assert.Equal(t, "part-a)1-x", got)
}
