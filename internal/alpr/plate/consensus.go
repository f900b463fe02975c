package plate

import (
	"sort"
	"sync"
)

// Strictness selects the acceptance policy for candidates that do not
// fully satisfy the grammar. The source material alternated between the
// two extremes; here it is explicit configuration.
type Strictness string

const (
	// StrictnessStrict admits only candidates that are grammar-valid
	// after repair. Fewer false positives, more missed reads.
	StrictnessStrict Strictness = "strict"
	// StrictnessPrefix additionally admits partial reads that carry a
	// recognised plate prefix. Such reads can lead the vote but are
	// only ever reported as provisional, never published.
	StrictnessPrefix Strictness = "prefix"
)

// ConsensusConfig holds the tunables for label consensus.
type ConsensusConfig struct {
	Grammar          *Grammar
	ConfidenceFloor  float64    // admission floor on raw OCR confidence
	WindowSize       int        // bounded FIFO size K per track
	PublishThreshold float64    // cumulative support weight to publish
	Strictness       Strictness
	Prefixes         []string // recognised prefixes for StrictnessPrefix

	// Logf, when non-nil, receives debug-level notes about discarded
	// candidates. Discards are normal filtering, not errors.
	Logf func(format string, v ...any)
}

// Record is the derived consensus state for one track. It is never
// mutated in place; every admitted candidate recomputes it from the
// window. BestText is only populated once the winning group is
// grammar-valid and its support clears the publication threshold,
// except in flush output where sub-threshold labels are surfaced with
// Provisional set.
type Record struct {
	TrackID        uint64
	BestText       string
	BestConfidence float64 // highest single member confidence of the winning group
	SupportWeight  float64 // sum of member confidences of the winning group
	WindowSize     int     // current number of entries in the window
	Published      bool
	Provisional    bool
}

// entry is one admitted candidate in a track's window.
type entry struct {
	text     string // post-repair normalized text
	conf     float64
	frame    int
	repaired bool
	valid    bool   // grammar-valid (prefix-mode entries may not be)
	seq      uint64 // global admission order, for recency tie-breaks
}

type window struct {
	entries []entry
	current Record
}

// Consensus maintains per-track candidate windows and the derived
// records. Windows are keyed and owned per track id and independent of
// one another; a single mutex suffices because all writes arrive from
// the frame-ordered pipeline owner.
type Consensus struct {
	mu      sync.Mutex
	cfg     ConsensusConfig
	windows map[uint64]*window
	seq     uint64
}

// NewConsensus creates a consensus layer. The grammar must be set.
func NewConsensus(cfg ConsensusConfig) *Consensus {
	if cfg.Grammar == nil {
		panic("plate: ConsensusConfig.Grammar must be set")
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.Strictness == "" {
		cfg.Strictness = StrictnessStrict
	}
	return &Consensus{cfg: cfg, windows: make(map[uint64]*window)}
}

func (c *Consensus) logf(format string, v ...any) {
	if c.cfg.Logf != nil {
		c.cfg.Logf(format, v...)
	}
}

// Observe feeds one raw OCR candidate for a track. It returns whether
// the candidate was admitted to the window. Sub-floor, empty,
// unrepairable, and (in strict mode) non-conforming candidates are
// discarded silently; they never pollute the window.
func (c *Consensus) Observe(trackID uint64, frame int, rawText string, confidence float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if confidence < c.cfg.ConfidenceFloor {
		c.logf("[Consensus] track %d: %q below confidence floor (%.2f < %.2f), discarded",
			trackID, rawText, confidence, c.cfg.ConfidenceFloor)
		return false
	}

	text := Normalize(rawText)
	if text == "" {
		c.logf("[Consensus] track %d: reading empty after normalization, discarded", trackID)
		return false
	}

	repaired, changed, ok := c.cfg.Grammar.Repair(text)
	valid := ok
	if !ok {
		if c.cfg.Strictness == StrictnessPrefix && HasPrefix(text, c.cfg.Prefixes) {
			// Loose policy: keep the partial read verbatim, marked
			// invalid so it can never be published.
			repaired = text
			changed = false
		} else {
			c.logf("[Consensus] track %d: %q fails grammar and is not uniquely repairable, discarded",
				trackID, text)
			return false
		}
	}

	w := c.windows[trackID]
	if w == nil {
		w = &window{}
		c.windows[trackID] = w
	}

	// FIFO eviction before admission. Eviction can change which group
	// leads; the recompute below handles that like any other change.
	if len(w.entries) >= c.cfg.WindowSize {
		w.entries = w.entries[1:]
	}

	c.seq++
	w.entries = append(w.entries, entry{
		text:     repaired,
		conf:     confidence,
		frame:    frame,
		repaired: changed,
		valid:    valid,
		seq:      c.seq,
	})

	w.current = c.recordFor(trackID, w, false)
	return true
}

// voteGroup accumulates the members sharing one post-repair text.
type voteGroup struct {
	text       string
	score      float64 // sum of member confidences
	maxConf    float64
	lastSeq    uint64
	unrepaired bool // at least one member needed no repair
	valid      bool
}

// leader recomputes the winning vote group from the window. The winner
// is the group with the highest summed confidence; exact score ties
// break by (1) unrepaired over repaired, (2) higher single member
// confidence, (3) most recently observed. The ordering is total, so the
// result is reproducible for identical input sequences.
func (c *Consensus) leader(w *window) *voteGroup {
	if len(w.entries) == 0 {
		return nil
	}

	groups := make(map[string]*voteGroup)
	for _, e := range w.entries {
		g := groups[e.text]
		if g == nil {
			g = &voteGroup{text: e.text, valid: e.valid}
			groups[e.text] = g
		}
		g.score += e.conf
		if e.conf > g.maxConf {
			g.maxConf = e.conf
		}
		if e.seq > g.lastSeq {
			g.lastSeq = e.seq
		}
		if !e.repaired {
			g.unrepaired = true
		}
	}

	var best *voteGroup
	for _, g := range groups {
		if best == nil || groupLess(best, g) {
			best = g
		}
	}
	return best
}

// recordFor derives the consensus record from the current window.
// exposeProvisional surfaces the leader text even when it has not
// cleared the publication gate. Used in flush output only.
func (c *Consensus) recordFor(trackID uint64, w *window, exposeProvisional bool) Record {
	rec := Record{TrackID: trackID, WindowSize: len(w.entries)}
	best := c.leader(w)
	if best == nil {
		return rec
	}

	rec.BestConfidence = best.maxConf
	rec.SupportWeight = best.score
	rec.Published = best.valid && best.score > c.cfg.PublishThreshold
	if rec.Published {
		rec.BestText = best.text
	} else {
		rec.Provisional = true
		if exposeProvisional {
			rec.BestText = best.text
		}
	}
	return rec
}

// groupLess reports whether candidate b beats the current best a under
// the deterministic tie-break order.
func groupLess(a, b *voteGroup) bool {
	if b.score != a.score {
		return b.score > a.score
	}
	if b.unrepaired != a.unrepaired {
		return b.unrepaired
	}
	if b.maxConf != a.maxConf {
		return b.maxConf > a.maxConf
	}
	return b.lastSeq > a.lastSeq
}

// Best returns the current consensus record for a track and whether any
// window exists for it.
func (c *Consensus) Best(trackID uint64) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[trackID]
	if !ok {
		return Record{TrackID: trackID}, false
	}
	return w.current, true
}

// Forget drops the window for a track whose identity has been deleted.
func (c *Consensus) Forget(trackID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, trackID)
}

// Flush returns best-known records for every tracked id, ordered by
// track id. Sub-threshold leaders are surfaced with their text and
// Provisional set rather than silently dropped, so shutdown does not
// lose in-flight state.
func (c *Consensus) Flush() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uint64, 0, len(c.windows))
	for id := range c.windows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.recordFor(id, c.windows[id], true))
	}
	return out
}
