// Package normalize derives matching keys from free-text grocery item names.
//
// Two items are considered the same purchase when their keys are equal. The
// key drops what does not change grocery identity: quantities and units,
// qualifier adjectives, connective words, parenthetical or comma-suffixed
// detail, and simple plural endings.
//
//	"500g de tomates fraîches" → "tomate"
//	"2 tomates"                → "tomate"
//	"tomate (bio)"             → "tomate"
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Keyer computes the matching key for an item name.
// Implementations must be pure: the same name always yields the same key.
type Keyer interface {
	Key(name string) string
}

// KeyFunc adapts an ordinary function to the Keyer interface.
type KeyFunc func(name string) string

// Key calls f(name).
func (f KeyFunc) Key(name string) string { return f(name) }

var (
	// Numbers left over once number+unit pairs are gone, including decimals
	// written with either separator ("1,5", "0.75") and fractions ("1/2").
	numberPattern = regexp.MustCompile(`\d+(?:[.,/]\d+)*`)

	// French elisions glue the connective to the next word: "d'ail", "l'huile".
	elisionPattern = regexp.MustCompile(`(^|\s)(?:d|l|qu)['’]`)

	ligatures = strings.NewReplacer("œ", "oe", "æ", "ae")
)

// Normalizer implements Keyer from a Lexicon. It is safe for concurrent use.
type Normalizer struct {
	quantity    *regexp.Regexp // nil when the lexicon has no units
	qualifiers  map[string]struct{}
	connectives map[string]struct{}
}

// New builds a Normalizer from the given lexicon.
func New(lex Lexicon) *Normalizer {
	n := &Normalizer{
		qualifiers:  wordSet(lex.Qualifiers),
		connectives: wordSet(lex.Connectives),
	}

	units := make([]string, 0, len(lex.Units))
	seen := make(map[string]bool, len(lex.Units))
	for _, u := range lex.Units {
		u = strings.TrimSpace(fold(u))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		units = append(units, regexp.QuoteMeta(u))
	}

	// Alternation is leftmost-first: longer units must be tried before their
	// prefixes ("kg" before "g", "gousses" before "g").
	sort.SliceStable(units, func(i, j int) bool {
		return len(units[i]) > len(units[j])
	})

	if len(units) > 0 {
		n.quantity = regexp.MustCompile(
			`\d+(?:[.,]\d+)?\s*(?:` + strings.Join(units, "|") + `)([^\p{L}]|$)`)
	}

	return n
}

// Default returns a Normalizer over DefaultLexicon.
func Default() *Normalizer {
	return New(DefaultLexicon())
}

// Key returns the matching key for name. It never fails; a name made only of
// noise (quantities, qualifiers, punctuation) yields the empty key.
func (n *Normalizer) Key(name string) string {
	s := fold(name)

	if n.quantity != nil {
		s = n.quantity.ReplaceAllString(s, " $1")
	}
	s = numberPattern.ReplaceAllString(s, " ")

	if i := strings.IndexAny(s, ",("); i >= 0 {
		s = s[:i]
	}

	s = elisionPattern.ReplaceAllString(s, "$1 ")

	words := strings.FieldsFunc(s, isSeparator)
	kept := words[:0]
	for _, w := range words {
		w = singular(strings.Trim(w, "-"))
		if w == "" {
			continue
		}
		if _, ok := n.connectives[w]; ok {
			continue
		}
		if _, ok := n.qualifiers[w]; ok {
			continue
		}
		kept = append(kept, w)
	}

	return strings.Join(kept, " ")
}

// fold lower-cases s and puts it in composed form so that "Fraîches" typed
// with a combining circumflex still matches the lexicon entry.
func fold(s string) string {
	s = norm.NFC.String(s)
	s = cases.Lower(language.Und).String(s)
	return ligatures.Replace(s)
}

// singular strips one trailing plural marker from words longer than three
// letters. It is deliberately crude; both sides of a comparison go through
// it, so consistency matters more than grammar.
func singular(w string) string {
	if utf8.RuneCountInString(w) <= 3 {
		return w
	}
	if strings.HasSuffix(w, "ss") {
		return w
	}
	// English "-oes": tomatoes, potatoes.
	if strings.HasSuffix(w, "oes") && utf8.RuneCountInString(w) > 4 {
		return w[:len(w)-2]
	}
	if strings.HasSuffix(w, "s") || strings.HasSuffix(w, "x") {
		return w[:len(w)-1]
	}
	return w
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && r != '-'
}

func wordSet(entries []string) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		for _, w := range strings.FieldsFunc(fold(e), isSeparator) {
			set[singular(w)] = struct{}{}
		}
	}
	return set
}
