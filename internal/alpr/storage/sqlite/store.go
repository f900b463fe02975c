// Package sqlite persists pipeline output to the run database. One
// Store instance serves one run; it implements pipeline.RecordSink.
package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/plate.report/internal/alpr/pipeline"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/timeutil"
)

type Store struct {
	db    *db.DB
	runID string
	clock timeutil.Clock

	frames int
}

// NewStore binds a store to an already-migrated database and creates
// the run row. source describes where the frames came from (typically
// the replay file path).
func NewStore(ctx context.Context, database *db.DB, source string) (*Store, error) {
	return NewStoreWithClock(ctx, database, source, timeutil.NewRealClock())
}

// NewStoreWithClock is NewStore with an injected clock for tests.
func NewStoreWithClock(ctx context.Context, database *db.DB, source string, clock timeutil.Clock) (*Store, error) {
	runID := uuid.NewString()
	_, err := database.ExecContext(ctx,
		"INSERT INTO runs (run_id, source, started_unix) VALUES (?, ?, ?)",
		runID, source, unixSeconds(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &Store{db: database, runID: runID, clock: clock}, nil
}

func unixSeconds(clock timeutil.Clock) float64 {
	return float64(clock.Now().UnixNano()) / 1e9
}

// RunID returns the id of the run this store writes to.
func (s *Store) RunID() string { return s.runID }

// SetFrames records the authoritative frame count for the run. Without
// it the count falls back to the highest frame seen in WriteRecord,
// which misses frames that produced no confirmed track.
func (s *Store) SetFrames(n int) {
	if n > s.frames {
		s.frames = n
	}
}

func (s *Store) WriteRecord(rec pipeline.FrameRecord) error {
	if rec.Frame >= s.frames {
		s.frames = rec.Frame + 1
	}

	var plateX1, plateY1, plateX2, plateY2, plateScore, textScore interface{}
	var text interface{}
	if rec.Plate != nil {
		plateX1, plateY1, plateX2, plateY2 = rec.Plate.X1, rec.Plate.Y1, rec.Plate.X2, rec.Plate.Y2
		plateScore = rec.PlateScore
		if rec.Text != "" {
			text = rec.Text
			textScore = rec.TextScore
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO plate_reads (
			run_id, track_id, frame,
			car_x1, car_y1, car_x2, car_y2,
			plate_x1, plate_y1, plate_x2, plate_y2,
			plate_score, text, text_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, rec.TrackID, rec.Frame,
		rec.Car.X1, rec.Car.Y1, rec.Car.X2, rec.Car.Y2,
		plateX1, plateY1, plateX2, plateY2,
		plateScore, text, textScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert plate read: %w", err)
	}
	return nil
}

func (s *Store) UpsertTrack(summary pipeline.TrackSummary) error {
	var text interface{}
	if summary.PlateText != "" {
		text = summary.PlateText
	}
	_, err := s.db.Exec(
		`INSERT INTO plate_tracks (
			run_id, track_id, first_frame, last_frame, state,
			plate_text, plate_score, plate_support, plate_published
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, track_id) DO UPDATE SET
			last_frame = excluded.last_frame,
			state = excluded.state,
			plate_text = excluded.plate_text,
			plate_score = excluded.plate_score,
			plate_support = excluded.plate_support,
			plate_published = excluded.plate_published`,
		s.runID, summary.TrackID, summary.FirstFrame, summary.LastFrame, string(summary.State),
		text, summary.PlateScore, summary.PlateSupport, boolToInt(summary.PlatePublished),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track %d: %w", summary.TrackID, err)
	}
	return nil
}

// Close finishes the run row. The database handle stays open; the
// caller owns it.
func (s *Store) Close() error {
	_, err := s.db.Exec(
		"UPDATE runs SET finished_unix = ?, frames = ? WHERE run_id = ?",
		unixSeconds(s.clock), s.frames, s.runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// PublishedPlate is one track that reached a published consensus.
type PublishedPlate struct {
	TrackID    uint64
	PlateText  string
	PlateScore float64
	Support    float64
	FirstFrame int
	LastFrame  int
}

// PublishedPlates returns the tracks in this run whose plate consensus
// was published, ordered by track id.
func (s *Store) PublishedPlates() ([]PublishedPlate, error) {
	rows, err := s.db.Query(
		`SELECT track_id, plate_text, plate_score, plate_support, first_frame, last_frame
		 FROM plate_tracks
		 WHERE run_id = ? AND plate_published = 1
		 ORDER BY track_id`,
		s.runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query published plates: %w", err)
	}
	defer rows.Close()

	var plates []PublishedPlate
	for rows.Next() {
		var p PublishedPlate
		if err := rows.Scan(&p.TrackID, &p.PlateText, &p.PlateScore, &p.Support, &p.FirstFrame, &p.LastFrame); err != nil {
			return nil, fmt.Errorf("failed to scan published plate: %w", err)
		}
		plates = append(plates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return plates, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
