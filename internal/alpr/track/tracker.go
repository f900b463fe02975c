package track

import (
	"sort"
	"sync"
)

// State is the lifecycle state of a track.
type State string

const (
	StateTentative State = "tentative" // new track, absorbing noise until confirmed
	StateConfirmed State = "confirmed" // stable identity, exposed downstream
	StateDeleted   State = "deleted"   // terminal; the id is never reused
)

// ManagerConfig holds the tracking lifecycle and association parameters.
type ManagerConfig struct {
	MinHits           int     // consecutive hits to promote tentative → confirmed
	MaxAge            int     // consecutive misses before deletion
	IOUThreshold      float64 // association gate: pairs below this IOU are forbidden
	GreedyAssociation bool    // greedy best-first matching instead of Hungarian
	FrameWidth        float64 // frame bounds for ingestion validation; 0 disables
	FrameHeight       float64
	Motion            MotionConfig
}

// Track is one tracked physical object. Exclusively owned by the
// Manager; callers only ever see Snapshot copies.
type Track struct {
	ID         uint64
	State      State
	Hits       int // consecutive successful associations
	Misses     int // consecutive missed associations
	Age        int // frames since creation
	FirstFrame int
	LastFrame  int
	Box        BBox    // current estimate (prediction, corrected on match)
	Confidence float64 // confidence of the last matched detection

	motion *MotionModel
}

// Snapshot is a read-only copy of a track's externally visible state.
type Snapshot struct {
	ID         uint64
	State      State
	Box        BBox
	Hits       int
	Misses     int
	Age        int
	FirstFrame int
	LastFrame  int
	Confidence float64
}

// StepResult reports what one frame cycle did.
type StepResult struct {
	// Matched maps a detection index (into the Step input slice) to the
	// id of the track it was associated with.
	Matched map[int]uint64
	// NewTrackIDs lists tracks spawned from unmatched detections.
	NewTrackIDs []uint64
	// DeletedTrackIDs lists tracks purged this frame.
	DeletedTrackIDs []uint64
	// Confirmed holds snapshots of all confirmed tracks after the cycle,
	// ordered by id. Tentative tracks are never exposed.
	Confirmed []Snapshot
}

// Manager owns the track arena and drives the per-frame
// predict → associate → update → age cycle. Ids are monotonically
// assigned and never reused. State is mutated by exactly one logical
// owner per frame; the mutex only guards read access from other
// goroutines (snapshots, counters).
type Manager struct {
	mu     sync.RWMutex
	cfg    ManagerConfig
	tracks map[uint64]*Track
	nextID uint64

	// Lifecycle counters for fragmentation reporting.
	tracksCreated   int
	tracksConfirmed int
}

// NewManager creates a track manager with the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		tracks: make(map[uint64]*Track),
		nextID: 1,
	}
}

// Step runs one full frame cycle. Detections with degenerate or
// out-of-frame boxes are dropped at ingestion and count as "no
// detection", a normal outcome rather than an error. The frame index is
// monotonically increasing; frame N completes before N+1 begins.
func (m *Manager) Step(frame int, detections []Detection) StepResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := StepResult{Matched: make(map[int]uint64)}

	// Ingestion validation. Index mapping is kept so Matched refers to
	// the caller's original detection indices.
	valid := make([]Detection, 0, len(detections))
	validIdx := make([]int, 0, len(detections))
	for i, d := range detections {
		if !d.Box.Valid() || !d.Box.InFrame(m.cfg.FrameWidth, m.cfg.FrameHeight) {
			continue
		}
		valid = append(valid, d)
		validIdx = append(validIdx, i)
	}

	// Predict all active tracks in id order so the cost matrix layout
	// is deterministic for identical input sequences.
	activeIDs := m.sortedIDs()
	predicted := make([]BBox, 0, len(activeIDs))
	liveIDs := make([]uint64, 0, len(activeIDs))
	for _, id := range activeIDs {
		trk := m.tracks[id]
		box := trk.motion.Predict()
		trk.Age++
		if !trk.motion.Finite() {
			// Numerical collapse; drop the track rather than let a
			// NaN estimate poison association.
			trk.State = StateDeleted
			delete(m.tracks, id)
			result.DeletedTrackIDs = append(result.DeletedTrackIDs, id)
			continue
		}
		trk.Box = box
		predicted = append(predicted, box)
		liveIDs = append(liveIDs, id)
	}

	assign := AssociateIOU(predicted, valid, m.cfg.IOUThreshold, m.cfg.GreedyAssociation)

	// Matched pairs: correct the estimate, bump hits, maybe confirm.
	for _, pair := range assign.Matches {
		di, ti := pair[0], pair[1]
		trk := m.tracks[liveIDs[ti]]
		det := valid[di]
		if trk.motion.Update(det) && trk.motion.Finite() {
			trk.Box = trk.motion.Box()
		}
		trk.Hits++
		trk.Misses = 0
		trk.Confidence = det.Confidence
		trk.LastFrame = frame
		if trk.State == StateTentative && trk.Hits >= m.cfg.MinHits {
			trk.State = StateConfirmed
			m.tracksConfirmed++
		}
		result.Matched[validIdx[di]] = trk.ID
	}

	// Unmatched tracks: miss increment, deletion at MaxAge. Deletion is
	// a normal filtering outcome; deleted tracks leave the arena the
	// same frame and their ids are never reassigned.
	for _, ti := range assign.UnmatchedTracks {
		trk := m.tracks[liveIDs[ti]]
		trk.Misses++
		trk.Hits = 0
		if trk.Misses >= m.cfg.MaxAge {
			trk.State = StateDeleted
			delete(m.tracks, trk.ID)
			result.DeletedTrackIDs = append(result.DeletedTrackIDs, trk.ID)
		}
	}

	// Unmatched detections spawn tentative tracks with fresh ids.
	for _, di := range assign.UnmatchedDetections {
		trk := m.spawn(frame, valid[di])
		result.NewTrackIDs = append(result.NewTrackIDs, trk.ID)
		result.Matched[validIdx[di]] = trk.ID
	}

	result.Confirmed = m.confirmedLocked()
	return result
}

func (m *Manager) spawn(frame int, det Detection) *Track {
	trk := &Track{
		ID:         m.nextID,
		State:      StateTentative,
		Hits:       1,
		FirstFrame: frame,
		LastFrame:  frame,
		Box:        det.Box,
		Confidence: det.Confidence,
		motion:     NewMotionModel(det.Box, m.cfg.Motion),
	}
	m.nextID++
	m.tracksCreated++
	if m.cfg.MinHits <= 1 {
		trk.State = StateConfirmed
		m.tracksConfirmed++
	}
	m.tracks[trk.ID] = trk
	return trk
}

func (m *Manager) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(m.tracks))
	for id := range m.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Manager) confirmedLocked() []Snapshot {
	var out []Snapshot
	for _, id := range m.sortedIDs() {
		trk := m.tracks[id]
		if trk.State != StateConfirmed {
			continue
		}
		out = append(out, Snapshot{
			ID:         trk.ID,
			State:      trk.State,
			Box:        trk.Box,
			Hits:       trk.Hits,
			Misses:     trk.Misses,
			Age:        trk.Age,
			FirstFrame: trk.FirstFrame,
			LastFrame:  trk.LastFrame,
			Confidence: trk.Confidence,
		})
	}
	return out
}

// ConfirmedTracks returns snapshots of all confirmed tracks, ordered by
// id. Tentative tracks exist purely to absorb noise and are not exposed.
func (m *Manager) ConfirmedTracks() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.confirmedLocked()
}

// Counts returns the number of active tracks by state.
func (m *Manager) Counts() (total, tentative, confirmed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, trk := range m.tracks {
		total++
		switch trk.State {
		case StateTentative:
			tentative++
		case StateConfirmed:
			confirmed++
		}
	}
	return
}

// Stats reports lifecycle totals since creation. FragmentationRatio is
// the fraction of created tracks that never reached confirmation.
type Stats struct {
	TracksCreated      int
	TracksConfirmed    int
	FragmentationRatio float64
}

// LifecycleStats returns cumulative creation/confirmation counters.
func (m *Manager) LifecycleStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{TracksCreated: m.tracksCreated, TracksConfirmed: m.tracksConfirmed}
	if s.TracksCreated > 0 {
		s.FragmentationRatio = 1 - float64(s.TracksConfirmed)/float64(s.TracksCreated)
	}
	return s
}
