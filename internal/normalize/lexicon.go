package normalize

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// LexiconVersion is the lexicon format this package understands. Files with
// a different major version are rejected.
const LexiconVersion = "v1.0.0"

// Lexicon is the word data a Normalizer strips from item names.
// Entries are matched case-insensitively after plural folding, so "fraîche"
// and "fraîches" are the same qualifier.
type Lexicon struct {
	Version string `yaml:"version"`

	// Replace discards the built-in lexicon instead of extending it.
	Replace bool `yaml:"replace,omitempty"`

	Units       []string `yaml:"units"`
	Qualifiers  []string `yaml:"qualifiers"`
	Connectives []string `yaml:"connectives"`
}

// DefaultLexicon returns the built-in French and English word lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Version: LexiconVersion,
		Units: []string{
			"mg", "g", "gr", "gramme", "grammes", "kg", "kilo", "kilos",
			"ml", "cl", "dl", "l", "litre", "litres",
			"oz", "lb", "lbs",
			"x", "pc", "pcs", "pièce", "pièces", "unité", "unités",
			"boîte", "boîtes", "sachet", "sachets", "paquet", "paquets",
			"pot", "pots", "bouteille", "bouteilles", "tranche", "tranches",
			"gousse", "gousses", "botte", "bottes", "brin", "brins",
			"pincée", "pincées", "cs", "cc", "càs", "càc",
			"c. à soupe", "c. à café", "cuillère", "cuillères",
			"tasse", "tasses", "cup", "cups", "tbsp", "tsp",
			"can", "cans", "pack", "packs", "bunch", "slice", "slices",
			"gram", "grams", "kilogram", "kilograms",
			"liter", "liters", "milliliter", "milliliters", "millilitre", "millilitres",
			"box", "boxes", "spoon", "spoons", "tablespoon", "tablespoons",
			"teaspoon", "teaspoons", "pinch", "pinches", "clove", "cloves",
		},
		Qualifiers: []string{
			// French
			"frais", "fraîche", "fraîches", "bio", "biologique",
			"surgelé", "surgelée", "entier", "entière", "haché", "hachée",
			"émincé", "émincée", "râpé", "râpée", "mûr", "mûre",
			"gros", "grosse", "petit", "petite", "moyen", "moyenne",
			"nature", "extra", "doux", "douce", "demi-écrémé",
			"cuit", "cuite", "en conserve", "rouge",
			// English
			"fresh", "organic", "frozen", "whole", "chopped", "minced",
			"grated", "sliced", "ripe", "large", "small", "medium",
			"big", "plain", "raw", "cooked", "canned", "red",
		},
		Connectives: []string{
			"de", "du", "des", "d", "la", "le", "les", "l", "en", "et",
			"au", "aux", "à", "un", "une",
			"of", "the", "a", "an", "and", "some",
		},
	}
}

// Merge returns l extended with the entries of other. When other.Replace is
// set the result is other alone.
func (l Lexicon) Merge(other Lexicon) Lexicon {
	if other.Replace {
		return other
	}
	return Lexicon{
		Version:     other.Version,
		Units:       appendClone(l.Units, other.Units),
		Qualifiers:  appendClone(l.Qualifiers, other.Qualifiers),
		Connectives: appendClone(l.Connectives, other.Connectives),
	}
}

// LoadLexicon reads a YAML lexicon from path and merges it onto the
// built-in one.
func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("reading lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes a YAML lexicon and merges it onto the built-in one.
func ParseLexicon(data []byte) (Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("parsing lexicon: %w", err)
	}
	if err := lex.checkVersion(); err != nil {
		return Lexicon{}, err
	}
	return DefaultLexicon().Merge(lex), nil
}

func (l Lexicon) checkVersion() error {
	v := strings.TrimSpace(l.Version)
	if v == "" {
		return fmt.Errorf("lexicon version is required")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("lexicon version %q is not a semantic version", l.Version)
	}
	if semver.Major(v) != semver.Major(LexiconVersion) {
		return fmt.Errorf("lexicon version %s unsupported (want %s.x)", l.Version, semver.Major(LexiconVersion))
	}
	return nil
}

func appendClone(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
