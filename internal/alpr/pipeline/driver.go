// Package pipeline drives the per-frame recognition cycle: vehicle
// detections feed the tracker, plate detections are matched to
// confirmed vehicles, plate crops go through OCR, and reads accumulate
// in the per-track consensus. Results stream to a RecordSink.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/plate.report/internal/alpr/plate"
	"github.com/banshee-data/plate.report/internal/alpr/track"
	"github.com/banshee-data/plate.report/internal/config"
)

// PlateDetection is one plate-detector hit on a frame.
type PlateDetection struct {
	Box   track.BBox
	Score float64
}

// PlateRead is one OCR result. OK is false when the reader saw the crop
// but could not produce a usable string; that is not an error.
type PlateRead struct {
	Text       string
	Confidence float64
	OK         bool
}

// Frame is one time step of input: the frame index plus the detector
// outputs for it. Detection and OCR are upstream concerns; the pipeline
// consumes their results.
type Frame struct {
	Index    int
	Vehicles []track.Detection
	Plates   []PlateDetection
}

// PlateReader produces an OCR read for a plate detection on a frame.
// Implementations are called concurrently and must be safe for that.
type PlateReader interface {
	ReadPlate(ctx context.Context, frame Frame, det PlateDetection) (PlateRead, error)
}

// Driver owns a tracker and a consensus and runs the frame cycle.
// Not safe for concurrent ProcessFrame calls; one goroutine owns the
// frame loop.
type Driver struct {
	cfg       *config.TuningConfig
	tracker   *track.Manager
	consensus *plate.Consensus
	reader    PlateReader
	sink      RecordSink

	vehicleClasses map[int]bool

	// last known summary per live track, so deletion can emit a final
	// row after the tracker has purged the track.
	summaries map[uint64]TrackSummary

	framesProcessed int
	readsAccepted   int
	readsRejected   int
}

// New builds a Driver from a loaded tuning config. The reader may be
// nil when the input frames carry no plates worth reading; the sink
// must not be nil.
func New(cfg *config.TuningConfig, reader PlateReader, sink RecordSink) (*Driver, error) {
	if sink == nil {
		return nil, fmt.Errorf("pipeline requires a record sink")
	}
	consCfg, err := plate.ConsensusConfigFromTuning(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build consensus config: %w", err)
	}
	consCfg.Logf = diagf

	classes := make(map[int]bool)
	for _, id := range cfg.GetVehicleClassIDs() {
		classes[id] = true
	}

	return &Driver{
		cfg:            cfg,
		tracker:        track.NewManager(track.ManagerConfigFromTuning(cfg)),
		consensus:      plate.NewConsensus(consCfg),
		reader:         reader,
		sink:           sink,
		vehicleClasses: classes,
		summaries:      make(map[uint64]TrackSummary),
	}, nil
}

// ProcessFrame runs one frame through the cycle and streams the
// resulting records to the sink.
func (d *Driver) ProcessFrame(ctx context.Context, frame Frame) error {
	d.framesProcessed++

	vehicles := d.filterVehicles(frame.Vehicles)
	step := d.tracker.Step(frame.Index, vehicles)
	tracef("frame %d: %d vehicle detections, %d confirmed tracks, %d new, %d deleted",
		frame.Index, len(vehicles), len(step.Confirmed), len(step.NewTrackIDs), len(step.DeletedTrackIDs))

	// Deleted tracks get a final summary row, then their vote window is
	// released.
	for _, id := range step.DeletedTrackIDs {
		if summary, ok := d.summaries[id]; ok {
			summary.State = track.StateDeleted
			if rec, ok := d.consensus.Best(id); ok {
				applyConsensus(&summary, rec)
			}
			if err := d.sink.UpsertTrack(summary); err != nil {
				return fmt.Errorf("failed to finalize track %d: %w", id, err)
			}
			delete(d.summaries, id)
		}
		d.consensus.Forget(id)
	}

	// Match plate detections to confirmed vehicles and OCR them.
	owned := d.assignPlates(frame.Plates, step.Confirmed)
	reads := d.readPlates(ctx, frame, owned)

	bestPlate := make(map[uint64]int) // track id -> index into owned
	for i, op := range owned {
		if j, ok := bestPlate[op.trackID]; !ok || op.det.Score > owned[j].det.Score {
			bestPlate[op.trackID] = i
		}
	}

	for i, op := range owned {
		read := reads[i]
		if !read.OK {
			continue
		}
		if d.consensus.Observe(op.trackID, frame.Index, read.Text, read.Confidence) {
			d.readsAccepted++
		} else {
			d.readsRejected++
		}
	}

	// One record per confirmed track; the plate columns come from the
	// best-scoring plate owned by that track this frame.
	for _, snap := range step.Confirmed {
		rec := FrameRecord{
			Frame:   frame.Index,
			TrackID: snap.ID,
			Car:     snap.Box,
		}
		if i, ok := bestPlate[snap.ID]; ok {
			box := owned[i].det.Box
			rec.Plate = &box
			rec.PlateScore = owned[i].det.Score
			if reads[i].OK {
				rec.Text = reads[i].Text
				rec.TextScore = reads[i].Confidence
			} else if cons, ok := d.consensus.Best(snap.ID); ok && cons.Published {
				// The crop yielded nothing this frame; carry the
				// track's published plate so the row stays labeled.
				rec.Text = cons.BestText
				rec.TextScore = cons.BestConfidence
				rec.Cached = true
			}
		}
		if err := d.sink.WriteRecord(rec); err != nil {
			return fmt.Errorf("failed to write record for track %d: %w", snap.ID, err)
		}

		summary := TrackSummary{
			TrackID:    snap.ID,
			FirstFrame: snap.FirstFrame,
			LastFrame:  snap.LastFrame,
			State:      snap.State,
		}
		if cons, ok := d.consensus.Best(snap.ID); ok {
			applyConsensus(&summary, cons)
		}
		d.summaries[snap.ID] = summary
		if err := d.sink.UpsertTrack(summary); err != nil {
			return fmt.Errorf("failed to upsert track %d: %w", snap.ID, err)
		}
	}

	return nil
}

func (d *Driver) filterVehicles(dets []track.Detection) []track.Detection {
	floor := d.cfg.GetDetectionConfidenceFloor()
	out := make([]track.Detection, 0, len(dets))
	for _, det := range dets {
		if det.Confidence < floor {
			continue
		}
		if len(d.vehicleClasses) > 0 && !d.vehicleClasses[det.ClassID] {
			continue
		}
		out = append(out, det)
	}
	return out
}

type ownedPlate struct {
	det     PlateDetection
	trackID uint64
}

// assignPlates matches each plate detection to the confirmed vehicle
// that contains it. When several vehicles contain the plate (overlap),
// the one whose center is nearest wins. Plates contained by no vehicle
// are dropped.
func (d *Driver) assignPlates(plates []PlateDetection, confirmed []track.Snapshot) []ownedPlate {
	floor := d.cfg.GetPlateConfidenceFloor()
	var out []ownedPlate
	for _, p := range plates {
		if p.Score < floor || !p.Box.Valid() {
			continue
		}
		px, py := p.Box.Center()
		best := uint64(0)
		bestDist := math.Inf(1)
		for _, snap := range confirmed {
			if !snap.Box.Contains(p.Box) {
				continue
			}
			cx, cy := snap.Box.Center()
			dist := (cx-px)*(cx-px) + (cy-py)*(cy-py)
			if dist < bestDist {
				best = snap.ID
				bestDist = dist
			}
		}
		if best == 0 {
			tracef("plate at (%.0f,%.0f) score %.2f matched no confirmed vehicle", px, py, p.Score)
			continue
		}
		out = append(out, ownedPlate{det: p, trackID: best})
	}
	return out
}

// readPlates runs OCR for all owned plates concurrently and waits for
// every read before returning. Reader errors are logged and treated as
// unusable reads; a bad crop must not abort the frame.
func (d *Driver) readPlates(ctx context.Context, frame Frame, owned []ownedPlate) []PlateRead {
	reads := make([]PlateRead, len(owned))
	if d.reader == nil || len(owned) == 0 {
		return reads
	}

	var wg sync.WaitGroup
	for i := range owned {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			read, err := d.reader.ReadPlate(ctx, frame, owned[i].det)
			if err != nil {
				opsf("OCR failed for track %d on frame %d: %v", owned[i].trackID, frame.Index, err)
				return
			}
			reads[i] = read
		}(i)
	}
	wg.Wait()
	return reads
}

func applyConsensus(summary *TrackSummary, rec plate.Record) {
	summary.PlateText = rec.BestText
	summary.PlateScore = rec.BestConfidence
	summary.PlateSupport = rec.SupportWeight
	summary.PlatePublished = rec.Published
}

// Stats reports pipeline counters for the run summary.
type Stats struct {
	FramesProcessed int
	ReadsAccepted   int
	ReadsRejected   int
	Tracker         track.Stats
}

func (d *Driver) Stats() Stats {
	return Stats{
		FramesProcessed: d.framesProcessed,
		ReadsAccepted:   d.readsAccepted,
		ReadsRejected:   d.readsRejected,
		Tracker:         d.tracker.LifecycleStats(),
	}
}

// Close flushes the consensus state: every surviving track gets a final
// summary row, including provisional (unpublished) plate text so replay
// output preserves the best available evidence. The sink is closed last.
func (d *Driver) Close() error {
	for _, rec := range d.consensus.Flush() {
		summary, ok := d.summaries[rec.TrackID]
		if !ok {
			continue
		}
		applyConsensus(&summary, rec)
		if err := d.sink.UpsertTrack(summary); err != nil {
			return fmt.Errorf("failed to flush track %d: %w", rec.TrackID, err)
		}
	}
	diagf("pipeline closed: %d frames, %d reads accepted, %d rejected",
		d.framesProcessed, d.readsAccepted, d.readsRejected)
	return d.sink.Close()
}
