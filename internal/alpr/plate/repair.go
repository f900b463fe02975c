package plate

// Confusable character tables for OCR letter/digit mixups. A letter in
// a digit-expected position is replaced by the digit it is commonly
// mistaken for, and vice versa. The pairs come from observed easyocr
// failures on the BP/BT plate corpus.
var (
	letterToDigit = map[byte]byte{
		'O': '0',
		'I': '1',
		'J': '3',
		'A': '4',
		'G': '6',
		'S': '5',
	}
	digitToLetter = map[byte]byte{
		'0': 'O',
		'1': 'I',
		'3': 'J',
		'4': 'A',
		'6': 'G',
		'5': 'S',
	}
)

// Repair attempts confusable-character correction of a normalized text
// against the grammar. Rules, in order:
//
//   - already valid: returned unchanged (repair is idempotent);
//   - wrong length, or more than one divergent position: rejected;
//     multi-position substitution could fabricate a different plate;
//   - exactly one divergent position: the position-class table is
//     consulted; the substitution is applied only when it exists and
//     the result is grammar-valid. A character with no table entry has
//     no uniquely plausible repair and is rejected rather than guessed.
//
// It returns the (possibly corrected) text, whether a substitution was
// applied, and whether the result is acceptable.
func (g *Grammar) Repair(text string) (repaired string, changed bool, ok bool) {
	divergences, lengthOK := g.Divergences(text)
	if !lengthOK {
		return "", false, false
	}
	if len(divergences) == 0 {
		return text, false, true
	}
	if len(divergences) > 1 {
		return "", false, false
	}

	pos := divergences[0]
	var sub byte
	var found bool
	switch g.ClassAt(pos) {
	case ClassDigit:
		sub, found = letterToDigit[text[pos]]
	case ClassLetter:
		sub, found = digitToLetter[text[pos]]
	}
	if !found {
		return "", false, false
	}

	b := []byte(text)
	b[pos] = sub
	candidate := string(b)
	if !g.Valid(candidate) {
		return "", false, false
	}
	return candidate, true, true
}
