package plate

import "strings"

// Normalize uppercases a raw OCR reading and strips everything that is
// not A–Z or 0–9: whitespace, dashes, dots and other separators OCR
// engines emit around plate text. An empty result means the reading
// carried no usable content and is discarded by the caller.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
