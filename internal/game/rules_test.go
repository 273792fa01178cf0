// internal/game/rules_test.go
package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleByName(t *testing.T, name string, ctx *RuleContext) Rule {
	t.Helper()
	for _, r := range Rules(ctx) {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no rule named %s", name)
	return Rule{}
}

func TestRulePredicates(t *testing.T) {
	ctx := &RuleContext{MinWordLength: 4, RandomLetter: 'k'}

	cases := []struct {
		rule string
		pass []string
		fail []string
	}{
		{"minLength", []string{"door", "doors"}, []string{"cat"}},
		{"containsLetter", []string{"kite", "okay"}, []string{"door"}},
		{"excludesLetter", []string{"door"}, []string{"kite"}},
		{"startsWithLetter", []string{"kite"}, []string{"okay"}},
		{"endsWithLetter", []string{"book"}, []string{"kite"}},
		{"endsWithTion", []string{"nation"}, []string{"native"}},
		{"startsWithCo", []string{"cobalt"}, []string{"bacon"}},
		{"doubleLetters", []string{"balloon", "coffee"}, []string{"letter", "door"}},
		{"consonantEdges", []string{"trust"}, []string{"apple", "cargo"}},
		{"vowelEdges", []string{"arena"}, []string{"trust", "oval"}},
		{"tripleLetter", []string{"banana"}, []string{"door", "aaaah"}},
	}

	for _, tc := range cases {
		rule := ruleByName(t, tc.rule, ctx)
		for _, w := range tc.pass {
			assert.NoError(t, rule.Validate(w, ctx), "%s should accept %q", tc.rule, w)
		}
		for _, w := range tc.fail {
			assert.Error(t, rule.Validate(w, ctx), "%s should reject %q", tc.rule, w)
		}
	}
}

func TestExactLengthTracksMinWordLength(t *testing.T) {
	ctx := &RuleContext{MinWordLength: 4}
	rule := ruleByName(t, "exactLength", ctx)

	assert.NoError(t, rule.Validate("sprint", ctx))
	assert.Error(t, rule.Validate("door", ctx))

	ctx.MinWordLength = 6
	assert.NoError(t, rule.Validate("absolute", ctx))
	assert.Error(t, rule.Validate("sprint", ctx))
}

func TestDoubleLettersPairsDoNotOverlap(t *testing.T) {
	ctx := &RuleContext{MinWordLength: 4}
	rule := ruleByName(t, "doubleLetters", ctx)

	// "aaa" is one pair plus a leftover, not two.
	assert.Error(t, rule.Validate("aaab", ctx))
	assert.NoError(t, rule.Validate("aaaa", ctx))
}

func TestRuleByIndexWraps(t *testing.T) {
	ctx := &RuleContext{MinWordLength: 4, RandomLetter: 'a'}
	n := RuleCount(ctx)
	require.Greater(t, n, 1)
	assert.Equal(t, Rules(ctx)[0].Name, RuleByIndex(n, ctx).Name)
	assert.Equal(t, Rules(ctx)[1].Name, RuleByIndex(n+1, ctx).Name)
}

func TestPipelineAlwaysEnforcesMinimumLength(t *testing.T) {
	ctx := &RuleContext{MinWordLength: 6, RandomLetter: 'n'}

	// Index 1 is containsLetter; "nap" contains 'n' but is too short.
	var err error
	for _, rule := range pipeline(1, ctx) {
		if err = rule.Validate("nap", ctx); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6")
}
