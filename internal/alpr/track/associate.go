package track

import "sort"

// Assignment is the outcome of one association cycle: 1:1 matched
// pairs, plus the leftovers on both sides. Unmatched tracks are
// candidates for a miss increment; unmatched detections spawn new
// tentative tracks.
type Assignment struct {
	// Matches pairs a detection index with a track index.
	Matches [][2]int
	// UnmatchedTracks is sorted ascending.
	UnmatchedTracks []int
	// UnmatchedDetections is sorted ascending.
	UnmatchedDetections []int
}

// AssociateIOU builds a 1−IOU cost matrix between predicted track boxes
// and this frame's detections, forbids pairs whose IOU falls below
// iouThreshold, and solves a 1:1 assignment. With greedy=false (the
// default) the Hungarian solver finds the globally optimal matching;
// greedy=true uses best-first selection, which is cheaper but can
// produce non-optimal matches in dense scenes where detections compete
// for the same track.
func AssociateIOU(predicted []BBox, detections []Detection, iouThreshold float64, greedy bool) Assignment {
	nDet := len(detections)
	nTrk := len(predicted)

	cost := make([][]float64, nDet)
	for di := range detections {
		cost[di] = make([]float64, nTrk)
		for ti := range predicted {
			iou := IOU(predicted[ti], detections[di].Box)
			if iou < iouThreshold {
				cost[di][ti] = ForbiddenCost
			} else {
				cost[di][ti] = 1 - iou
			}
		}
	}

	var detToTrk []int
	if greedy {
		detToTrk = greedyAssign(cost, nDet, nTrk)
	} else {
		detToTrk = HungarianAssign(cost)
	}

	var out Assignment
	matchedTracks := make([]bool, nTrk)
	for di := 0; di < nDet; di++ {
		ti := -1
		if di < len(detToTrk) {
			ti = detToTrk[di]
		}
		if ti >= 0 {
			out.Matches = append(out.Matches, [2]int{di, ti})
			matchedTracks[ti] = true
		} else {
			out.UnmatchedDetections = append(out.UnmatchedDetections, di)
		}
	}
	for ti := 0; ti < nTrk; ti++ {
		if !matchedTracks[ti] {
			out.UnmatchedTracks = append(out.UnmatchedTracks, ti)
		}
	}
	return out
}

// greedyAssign picks feasible pairs in ascending cost order, skipping
// any pair whose detection or track is already taken. Ties on cost are
// broken by (detection, track) index so the result is deterministic.
func greedyAssign(cost [][]float64, nDet, nTrk int) []int {
	type pair struct {
		c      float64
		di, ti int
	}
	pairs := make([]pair, 0, nDet*nTrk)
	for di := 0; di < nDet; di++ {
		for ti := 0; ti < nTrk; ti++ {
			if cost[di][ti] < ForbiddenCost {
				pairs = append(pairs, pair{cost[di][ti], di, ti})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].c != pairs[j].c {
			return pairs[i].c < pairs[j].c
		}
		if pairs[i].di != pairs[j].di {
			return pairs[i].di < pairs[j].di
		}
		return pairs[i].ti < pairs[j].ti
	})

	assign := make([]int, nDet)
	for i := range assign {
		assign[i] = -1
	}
	takenTrk := make([]bool, nTrk)
	for _, p := range pairs {
		if assign[p.di] >= 0 || takenTrk[p.ti] {
			continue
		}
		assign[p.di] = p.ti
		takenTrk[p.ti] = true
	}
	return assign
}
