// internal/words/words.go
package words

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Dictionary is the set of playable words, keyed by normalized form.
type Dictionary struct {
	words map[string]struct{}
}

// foldTransformer strips combining diacritical marks after NFD decomposition,
// so "café" and "cafe" normalize to the same entry.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, trims, and diacritic-folds a word. Every word entering
// the dictionary, the used-word set, or rule validation passes through here.
func Normalize(word string) string {
	folded, _, err := transform.String(foldTransformer, strings.TrimSpace(word))
	if err != nil {
		// Fold failure leaves the input intact; lowercase is still applied.
		folded = strings.TrimSpace(word)
	}
	return strings.ToLower(folded)
}

// Load reads a newline-delimited word list from path.
func Load(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()

	d := &Dictionary{words: make(map[string]struct{})}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		w := Normalize(scanner.Text())
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		d.words[w] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan word list: %w", err)
	}
	return d, nil
}

// FromSlice builds a Dictionary from an in-memory list. Used in tests and for
// embedded fallback lists.
func FromSlice(list []string) *Dictionary {
	d := &Dictionary{words: make(map[string]struct{}, len(list))}
	for _, w := range list {
		d.words[Normalize(w)] = struct{}{}
	}
	return d
}

// Contains reports whether the normalized form of word is playable.
func (d *Dictionary) Contains(word string) bool {
	_, ok := d.words[Normalize(word)]
	return ok
}

// Len returns the number of entries.
func (d *Dictionary) Len() int { return len(d.words) }
