package plate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairValidTextUnchanged(t *testing.T) {
	t.Parallel()

	g := MustParseGrammar("LLDLDDDD")
	repaired, changed, ok := g.Repair("BP1A2345")
	assert.True(t, ok)
	assert.False(t, changed)
	assert.Equal(t, "BP1A2345", repaired)
}

func TestRepairSingleConfusable(t *testing.T) {
	t.Parallel()

	g := MustParseGrammar("LLDLDDDD")

	cases := []struct {
		in, want string
	}{
		{"BPIA2345", "BP1A2345"}, // I → 1 in digit slot
		{"BP1A234S", "BP1A2345"}, // S → 5
		{"BP1A2O45", "BP1A2045"}, // O → 0
		{"BP1A23J5", "BP1A2335"}, // J → 3
		{"BP1AG345", "BP1A6345"}, // G → 6
		{"BP1AA345", "BP1A4345"}, // A → 4
		{"BP142345", "BP1A2345"}, // 4 → A in letter slot
		{"B01A2345", "BO1A2345"}, // 0 → O
	}
	for _, tc := range cases {
		repaired, changed, ok := g.Repair(tc.in)
		assert.True(t, ok, "input %q", tc.in)
		assert.True(t, changed, "input %q", tc.in)
		assert.Equal(t, tc.want, repaired, "input %q", tc.in)
	}
}

func TestRepairIdempotent(t *testing.T) {
	t.Parallel()

	g := MustParseGrammar("LLDLDDDD")
	once, _, ok := g.Repair("BPIA2345")
	assert.True(t, ok)
	twice, changed, ok := g.Repair(once)
	assert.True(t, ok)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

func TestRepairRejections(t *testing.T) {
	t.Parallel()

	g := MustParseGrammar("LLDLDDDD")

	t.Run("wrong length", func(t *testing.T) {
		t.Parallel()
		_, _, ok := g.Repair("BP1A234")
		assert.False(t, ok)
		_, _, ok = g.Repair("")
		assert.False(t, ok)
	})

	t.Run("multiple divergences", func(t *testing.T) {
		t.Parallel()
		// Both positions individually repairable, still rejected.
		_, _, ok := g.Repair("BPIA234S")
		assert.False(t, ok)
	})

	t.Run("no confusable mapping", func(t *testing.T) {
		t.Parallel()
		// Z in a digit slot has no table entry.
		_, _, ok := g.Repair("BP1AZ345")
		assert.False(t, ok)
	})
}
