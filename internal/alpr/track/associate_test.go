package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x1, y1, x2, y2 float64) Detection {
	return Detection{Box: BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: 0.9}
}

func TestAssociateIOUMatchesOverlapping(t *testing.T) {
	t.Parallel()

	predicted := []BBox{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
		{X1: 300, Y1: 300, X2: 400, Y2: 400},
	}
	detections := []Detection{
		det(305, 295, 405, 395), // overlaps track 1
		det(5, 5, 105, 105),     // overlaps track 0
	}

	a := AssociateIOU(predicted, detections, 0.3, false)
	require.Len(t, a.Matches, 2)
	assert.Contains(t, a.Matches, [2]int{0, 1})
	assert.Contains(t, a.Matches, [2]int{1, 0})
	assert.Empty(t, a.UnmatchedTracks)
	assert.Empty(t, a.UnmatchedDetections)
}

func TestAssociateIOUThresholdGating(t *testing.T) {
	t.Parallel()

	predicted := []BBox{{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	// Small sliver of overlap, IOU well below 0.3.
	detections := []Detection{det(95, 95, 195, 195)}

	a := AssociateIOU(predicted, detections, 0.3, false)
	assert.Empty(t, a.Matches)
	assert.Equal(t, []int{0}, a.UnmatchedTracks)
	assert.Equal(t, []int{0}, a.UnmatchedDetections)
}

func TestAssociateIOUEmptyInputs(t *testing.T) {
	t.Parallel()

	t.Run("no tracks", func(t *testing.T) {
		t.Parallel()
		a := AssociateIOU(nil, []Detection{det(0, 0, 10, 10)}, 0.3, false)
		assert.Empty(t, a.Matches)
		assert.Equal(t, []int{0}, a.UnmatchedDetections)
	})

	t.Run("no detections", func(t *testing.T) {
		t.Parallel()
		a := AssociateIOU([]BBox{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, nil, 0.3, false)
		assert.Empty(t, a.Matches)
		assert.Equal(t, []int{0}, a.UnmatchedTracks)
	})
}

func TestAssociateIOUOptimalVersusGreedy(t *testing.T) {
	t.Parallel()

	// Two tracks, two detections, overlapping in a way where the greedy
	// choice for detection 0 forces a worse pairing overall. Both
	// strategies must still produce a 1:1 matching.
	predicted := []BBox{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
		{X1: 40, Y1: 0, X2: 140, Y2: 100},
	}
	detections := []Detection{
		det(20, 0, 120, 100),
		det(0, 0, 100, 100),
	}

	for _, greedy := range []bool{false, true} {
		a := AssociateIOU(predicted, detections, 0.1, greedy)
		require.Len(t, a.Matches, 2, "greedy=%v", greedy)

		seenDet := map[int]bool{}
		seenTrk := map[int]bool{}
		for _, m := range a.Matches {
			assert.False(t, seenDet[m[0]], "detection matched twice")
			assert.False(t, seenTrk[m[1]], "track matched twice")
			seenDet[m[0]] = true
			seenTrk[m[1]] = true
		}
	}

	// The Hungarian result minimises total cost: detection 1 is exactly
	// track 0's box, so it takes track 0 and detection 0 takes track 1.
	a := AssociateIOU(predicted, detections, 0.1, false)
	assert.Contains(t, a.Matches, [2]int{1, 0})
	assert.Contains(t, a.Matches, [2]int{0, 1})
}

func TestGreedyAssignDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Two identical detections over one track: the lower detection index
	// wins the tie every time.
	predicted := []BBox{{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	detections := []Detection{
		det(0, 0, 100, 100),
		det(0, 0, 100, 100),
	}

	for i := 0; i < 10; i++ {
		a := AssociateIOU(predicted, detections, 0.3, true)
		require.Len(t, a.Matches, 1)
		assert.Equal(t, [2]int{0, 0}, a.Matches[0])
		assert.Equal(t, []int{1}, a.UnmatchedDetections)
	}
}
