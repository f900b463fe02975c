package plate

import "fmt"

// PosClass is the character class expected at one grammar position.
type PosClass byte

const (
	ClassLetter PosClass = 'L'
	ClassDigit  PosClass = 'D'
)

// Grammar is a fixed-position plate format: one character class per
// position. It is deliberately a position-indexed checker rather than a
// regexp so that repair can target the specific positions that diverge.
//
// The pattern string uses 'L' for letter and 'D' for digit, e.g.
// "LLDLDDDD" for the BP-1-C3275 family.
type Grammar struct {
	classes []PosClass
}

// ParseGrammar builds a Grammar from a pattern string.
func ParseGrammar(pattern string) (*Grammar, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty grammar pattern")
	}
	classes := make([]PosClass, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case 'L', 'D':
			classes[i] = PosClass(c)
		default:
			return nil, fmt.Errorf("grammar pattern %q: position %d: unknown class %q (want L or D)", pattern, i, c)
		}
	}
	return &Grammar{classes: classes}, nil
}

// MustParseGrammar is ParseGrammar for compile-time-constant patterns.
func MustParseGrammar(pattern string) *Grammar {
	g, err := ParseGrammar(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Len returns the number of positions in the grammar.
func (g *Grammar) Len() int { return len(g.classes) }

// ClassAt returns the expected class at position i.
func (g *Grammar) ClassAt(i int) PosClass { return g.classes[i] }

// Valid reports whether text, already normalized, matches the grammar
// at every position.
func (g *Grammar) Valid(text string) bool {
	div, ok := g.Divergences(text)
	return ok && len(div) == 0
}

// Divergences returns the positions where text fails its expected
// class. ok is false when the text length does not match the grammar;
// a length mismatch is not repairable and yields no positions.
func (g *Grammar) Divergences(text string) (positions []int, ok bool) {
	if len(text) != len(g.classes) {
		return nil, false
	}
	for i := 0; i < len(text); i++ {
		if !matchesClass(text[i], g.classes[i]) {
			positions = append(positions, i)
		}
	}
	return positions, true
}

func matchesClass(c byte, class PosClass) bool {
	switch class {
	case ClassLetter:
		return c >= 'A' && c <= 'Z'
	case ClassDigit:
		return c >= '0' && c <= '9'
	}
	return false
}

// HasPrefix reports whether text starts with any of the given
// prefixes. Used by the loose acceptance policy, which admits partial
// reads that carry a known plate prefix.
func HasPrefix(text string, prefixes []string) bool {
	for _, p := range prefixes {
		if len(text) >= len(p) && text[:len(p)] == p {
			return true
		}
	}
	return false
}
