// internal/game/rules.go
package game

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// RuleContext carries the tunable inputs the rule predicates close over. The
// engine re-rolls RandomLetter after every accepted word and raises
// MinWordLength as difficulty escalates.
type RuleContext struct {
	MinWordLength int  `json:"minWordLength"`
	RandomLetter  rune `json:"randomLetter"`
}

// Rule is one named word predicate. Validate returns nil on pass or an error
// whose message is sent verbatim to the offending sender.
type Rule struct {
	Name        string
	Description string
	Validate    func(word string, ctx *RuleContext) error
}

func wordLen(word string) int { return utf8.RuneCountInString(word) }

func isVowel(r rune) bool { return strings.ContainsRune("aeiou", r) }

// Rules returns the full ordered rule list for the given context. The engine
// walks this list as turns wrap; appending here is how a new rule ships.
func Rules(ctx *RuleContext) []Rule {
	return []Rule{
		{
			Name:        "minLength",
			Description: fmt.Sprintf("Word must be at least %d characters!", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if wordLen(word) < ctx.MinWordLength {
					return fmt.Errorf("Word must be at least %d characters!", ctx.MinWordLength)
				}
				return nil
			},
		},
		{
			Name:        "containsLetter",
			Description: fmt.Sprintf("Word must contain the letter '%c' and be at least %d characters long", ctx.RandomLetter, ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if !strings.ContainsRune(word, ctx.RandomLetter) {
					return fmt.Errorf("Word must contain '%c'", ctx.RandomLetter)
				}
				return nil
			},
		},
		{
			Name:        "excludesLetter",
			Description: fmt.Sprintf("Word must NOT contain the letter '%c' and be at least %d characters long", ctx.RandomLetter, ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if strings.ContainsRune(word, ctx.RandomLetter) {
					return fmt.Errorf("Word must NOT contain '%c'", ctx.RandomLetter)
				}
				return nil
			},
		},
		{
			Name:        "startsWithLetter",
			Description: fmt.Sprintf("Word must start with the letter '%c' and be at least %d characters long", ctx.RandomLetter, ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if !strings.HasPrefix(word, string(ctx.RandomLetter)) {
					return fmt.Errorf("Word must start with '%c'", ctx.RandomLetter)
				}
				return nil
			},
		},
		{
			Name:        "endsWithLetter",
			Description: fmt.Sprintf("Word must end with the letter '%c' and be at least %d characters long", ctx.RandomLetter, ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if !strings.HasSuffix(word, string(ctx.RandomLetter)) {
					return fmt.Errorf("Word must end with '%c'", ctx.RandomLetter)
				}
				return nil
			},
		},
		{
			Name:        "endsWithTion",
			Description: fmt.Sprintf("Word must end with 'tion' and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if !strings.HasSuffix(word, "tion") {
					return fmt.Errorf("Word must end with 'tion'")
				}
				return nil
			},
		},
		{
			Name:        "startsWithCo",
			Description: fmt.Sprintf("Word must start with 'co' and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				if !strings.HasPrefix(word, "co") {
					return fmt.Errorf("Word must start with 'co'")
				}
				return nil
			},
		},
		{
			Name:        "doubleLetters",
			Description: fmt.Sprintf("Word must contain at least two pairs of double letters and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				chars := []rune(word)
				pairs := 0
				for i := 0; i < len(chars)-1; {
					if chars[i] == chars[i+1] {
						pairs++
						i += 2 // non-overlapping pairs
					} else {
						i++
					}
				}
				if pairs < 2 {
					return fmt.Errorf("Word must have at least two pairs of double letters!")
				}
				return nil
			},
		},
		{
			Name:        "exactLength",
			Description: fmt.Sprintf("Word must have exactly %d letters", ctx.MinWordLength+2),
			Validate: func(word string, ctx *RuleContext) error {
				target := ctx.MinWordLength + 2
				if wordLen(word) != target {
					return fmt.Errorf("Word must be exactly %d letters long!", target)
				}
				return nil
			},
		},
		{
			Name:        "consonantEdges",
			Description: fmt.Sprintf("Word must start and end with a consonant and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				chars := []rune(word)
				if len(chars) == 0 {
					return fmt.Errorf("Word cannot be empty")
				}
				if isVowel(chars[0]) || isVowel(chars[len(chars)-1]) {
					return fmt.Errorf("Word must start and end with a consonant!")
				}
				return nil
			},
		},
		{
			Name:        "vowelEdges",
			Description: fmt.Sprintf("Word must start and end with a vowel and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				chars := []rune(word)
				if len(chars) == 0 {
					return fmt.Errorf("Word cannot be empty")
				}
				if !isVowel(chars[0]) || !isVowel(chars[len(chars)-1]) {
					return fmt.Errorf("Word must start and end with a vowel!")
				}
				return nil
			},
		},
		{
			Name:        "tripleLetter",
			Description: fmt.Sprintf("Word must contain at least one letter that appears exactly three times and be at least %d characters long", ctx.MinWordLength),
			Validate: func(word string, ctx *RuleContext) error {
				counts := make(map[rune]int)
				for _, r := range word {
					counts[r]++
				}
				for _, n := range counts {
					if n == 3 {
						return nil
					}
				}
				return fmt.Errorf("Word must contain at least one letter appearing exactly three times!")
			},
		},
	}
}

// RuleByIndex returns the rule at index, wrapping around the list.
func RuleByIndex(index int, ctx *RuleContext) Rule {
	rules := Rules(ctx)
	return rules[index%len(rules)]
}

// RuleCount returns the length of the rule list.
func RuleCount(ctx *RuleContext) int { return len(Rules(ctx)) }

// pipeline returns the ordered predicate list applied to a submission under
// the current rule index: the baseline minimum-length gate first (skipped
// when the active rule is itself minLength), then the active rule.
func pipeline(index int, ctx *RuleContext) []Rule {
	active := RuleByIndex(index, ctx)
	if active.Name == "minLength" {
		return []Rule{active}
	}
	rules := Rules(ctx)
	return []Rule{rules[0], active}
}
