package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/plate.report/internal/alpr/track"
)

// FrameRecord is one confirmed-vehicle observation on one frame: the
// vehicle box, the plate box matched to it (if any), and the OCR read
// of that plate. Cached is set when the frame produced no usable read
// and Text instead carries the track's published consensus plate.
type FrameRecord struct {
	Frame      int
	TrackID    uint64
	Car        track.BBox
	Plate      *track.BBox
	PlateScore float64
	Text       string
	TextScore  float64
	Cached     bool
}

// TrackSummary is the rolling per-track outcome: lifecycle state plus
// the current consensus plate. Sinks receive it whenever it changes so
// storage always reflects the latest belief.
type TrackSummary struct {
	TrackID        uint64
	FirstFrame     int
	LastFrame      int
	State          track.State
	PlateText      string
	PlateScore     float64
	PlateSupport   float64
	PlatePublished bool
}

// RecordSink receives pipeline output. Implementations must tolerate
// repeated UpsertTrack calls for the same track id.
type RecordSink interface {
	WriteRecord(rec FrameRecord) error
	UpsertTrack(summary TrackSummary) error
	Close() error
}

// MultiSink fans records out to several sinks, stopping at the first error.
type MultiSink []RecordSink

func (m MultiSink) WriteRecord(rec FrameRecord) error {
	for _, s := range m {
		if err := s.WriteRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) UpsertTrack(summary TrackSummary) error {
	for _, s := range m {
		if err := s.UpsertTrack(summary); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CSVSink writes one row per plate observation in the layout downstream
// analysis scripts expect: frame number, track id, the two boxes, and
// the OCR read with its scores. Records without a plate box are skipped;
// the CSV only carries plate evidence.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink wraps w in a CSV writer and emits the header row. If w is
// also an io.Closer it is closed by Close.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	cw := csv.NewWriter(w)
	header := []string{
		"frame_nmr", "car_id", "car_bbox",
		"license_plate_bbox", "license_plate_bbox_score",
		"license_number", "license_number_score",
	}
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	sink := &CSVSink{w: cw}
	if c, ok := w.(io.Closer); ok {
		sink.closer = c
	}
	return sink, nil
}

func (s *CSVSink) WriteRecord(rec FrameRecord) error {
	if rec.Plate == nil {
		return nil
	}
	row := []string{
		strconv.Itoa(rec.Frame),
		strconv.FormatUint(rec.TrackID, 10),
		formatBox(rec.Car),
		formatBox(*rec.Plate),
		strconv.FormatFloat(rec.PlateScore, 'f', -1, 64),
		rec.Text,
		strconv.FormatFloat(rec.TextScore, 'f', -1, 64),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	return nil
}

// UpsertTrack is a no-op: the CSV carries per-frame evidence only.
func (s *CSVSink) UpsertTrack(TrackSummary) error { return nil }

func (s *CSVSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func formatBox(b track.BBox) string {
	return fmt.Sprintf("[%g %g %g %g]", b.X1, b.Y1, b.X2, b.Y2)
}
