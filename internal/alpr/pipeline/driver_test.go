package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plate.report/internal/alpr/track"
	"github.com/banshee-data/plate.report/internal/config"
)

// memorySink captures everything the driver emits.
type memorySink struct {
	records   []FrameRecord
	summaries map[uint64]TrackSummary
	closed    bool
}

func newMemorySink() *memorySink {
	return &memorySink{summaries: make(map[uint64]TrackSummary)}
}

func (s *memorySink) WriteRecord(rec FrameRecord) error { s.records = append(s.records, rec); return nil }
func (s *memorySink) UpsertTrack(sum TrackSummary) error {
	s.summaries[sum.TrackID] = sum
	return nil
}
func (s *memorySink) Close() error { s.closed = true; return nil }

// fixedReader returns the same read for every plate.
type fixedReader struct {
	read PlateRead
}

func (r fixedReader) ReadPlate(context.Context, Frame, PlateDetection) (PlateRead, error) {
	return r.read, nil
}

func testTuning(t *testing.T, overrides func(c *config.TuningConfig)) *config.TuningConfig {
	t.Helper()
	cfg := config.EmptyTuningConfig()
	minHits := 2
	cfg.MinHits = &minHits
	if overrides != nil {
		overrides(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func carFrame(index int, x float64) Frame {
	return Frame{
		Index: index,
		Vehicles: []track.Detection{
			{Box: track.BBox{X1: x, Y1: 100, X2: x + 200, Y2: 250}, Confidence: 0.9, ClassID: 2},
		},
	}
}

func withPlate(f Frame, score float64) Frame {
	car := f.Vehicles[0].Box
	f.Plates = []PlateDetection{
		{Box: track.BBox{X1: car.X1 + 70, Y1: car.Y1 + 100, X2: car.X1 + 130, Y2: car.Y1 + 130}, Score: score},
	}
	return f
}

func TestDriverConfirmsAndRecords(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	driver, err := New(testTuning(t, nil), nil, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, carFrame(i, float64(i)*10)))
	}

	// MinHits=2: confirmed from frame 1 onward, one record per frame.
	assert.Len(t, sink.records, 3)
	require.Len(t, sink.summaries, 1)
	for _, sum := range sink.summaries {
		assert.Equal(t, track.StateConfirmed, sum.State)
		assert.Equal(t, 0, sum.FirstFrame)
		assert.Equal(t, 3, sum.LastFrame)
	}

	require.NoError(t, driver.Close())
	assert.True(t, sink.closed)

	stats := driver.Stats()
	assert.Equal(t, 4, stats.FramesProcessed)
	assert.Equal(t, 1, stats.Tracker.TracksCreated)
}

func TestDriverFiltersVehicleDetections(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	driver, err := New(testTuning(t, nil), nil, sink)
	require.NoError(t, err)

	ctx := context.Background()
	frame := Frame{
		Index: 0,
		Vehicles: []track.Detection{
			{Box: track.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100}, Confidence: 0.1, ClassID: 2},  // below floor
			{Box: track.BBox{X1: 200, Y1: 0, X2: 300, Y2: 100}, Confidence: 0.9, ClassID: 0}, // not a vehicle class
		},
	}
	require.NoError(t, driver.ProcessFrame(ctx, frame))
	assert.Equal(t, 0, driver.Stats().Tracker.TracksCreated)
}

func TestDriverPlateConsensusPublishes(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	reader := fixedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}}
	driver, err := New(testTuning(t, nil), reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, float64(i)*5), 0.8)))
	}
	require.NoError(t, driver.Close())

	require.Len(t, sink.summaries, 1)
	for _, sum := range sink.summaries {
		assert.True(t, sum.PlatePublished)
		assert.Equal(t, "BP1A2345", sum.PlateText)
		assert.Greater(t, sum.PlateSupport, 2.0)
	}

	// Plate columns present on confirmed-frame records.
	var withPlateBox int
	for _, rec := range sink.records {
		if rec.Plate != nil {
			withPlateBox++
			assert.Equal(t, "BP1A2345", rec.Text)
			assert.InDelta(t, 0.9, rec.TextScore, 1e-9)
		}
	}
	assert.Greater(t, withPlateBox, 0)

	stats := driver.Stats()
	assert.Greater(t, stats.ReadsAccepted, 0)
}

// gatedReader produces reads only through lastFrame; later frames see
// the plate box but get no usable text, like a blurred crop.
type gatedReader struct {
	read      PlateRead
	lastFrame int
}

func (r gatedReader) ReadPlate(_ context.Context, f Frame, _ PlateDetection) (PlateRead, error) {
	if f.Index > r.lastFrame {
		return PlateRead{}, nil
	}
	return r.read, nil
}

func TestDriverReusesPublishedPlateOnEmptyRead(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	reader := gatedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}, lastFrame: 3}
	driver, err := New(testTuning(t, nil), reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, float64(i)*5), 0.8)))
	}
	require.NoError(t, driver.Close())

	// Reads stop after frame 3, by which point consensus has published.
	var cached, live int
	for _, rec := range sink.records {
		if rec.Plate == nil {
			continue
		}
		if rec.Frame > 3 {
			assert.True(t, rec.Cached, "frame %d should carry the cached plate", rec.Frame)
			assert.Equal(t, "BP1A2345", rec.Text)
			assert.InDelta(t, 0.9, rec.TextScore, 1e-9)
			cached++
		} else {
			assert.False(t, rec.Cached, "frame %d had a live read", rec.Frame)
			live++
		}
	}
	assert.Equal(t, 2, cached)
	assert.Greater(t, live, 0)
}

func TestDriverNoCacheBeforePublication(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	// Reads stop before the support threshold is reached, so the track
	// never publishes and read-less frames must stay blank.
	reader := gatedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}, lastFrame: 2}
	driver, err := New(testTuning(t, nil), reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, float64(i)*5), 0.8)))
	}
	require.NoError(t, driver.Close())

	for _, rec := range sink.records {
		if rec.Frame > 2 {
			assert.Empty(t, rec.Text, "frame %d must not expose unpublished text", rec.Frame)
			assert.False(t, rec.Cached)
		}
	}
}

func TestDriverIgnoresUnownedPlates(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	reader := fixedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}}
	driver, err := New(testTuning(t, nil), reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		frame := carFrame(i, 0)
		// A plate far outside the only vehicle.
		frame.Plates = []PlateDetection{
			{Box: track.BBox{X1: 500, Y1: 500, X2: 560, Y2: 530}, Score: 0.9},
		}
		require.NoError(t, driver.ProcessFrame(ctx, frame))
	}
	require.NoError(t, driver.Close())

	assert.Equal(t, 0, driver.Stats().ReadsAccepted)
	for _, rec := range sink.records {
		assert.Nil(t, rec.Plate)
	}
}

func TestDriverPlateBelowFloorSkipsOCR(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	reader := fixedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}}
	driver, err := New(testTuning(t, nil), reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, 0), 0.05)))
	}
	assert.Equal(t, 0, driver.Stats().ReadsAccepted)
}

func TestDriverFinalizesDeletedTracks(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	cfg := testTuning(t, func(c *config.TuningConfig) {
		maxAge := 2
		c.MaxAge = &maxAge
	})
	reader := fixedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}}
	driver, err := New(cfg, reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, float64(i)*5), 0.8)))
	}
	// Vehicle disappears; after MaxAge=2 empty frames the track dies.
	for i := 4; i < 8; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, Frame{Index: i}))
	}

	require.Len(t, sink.summaries, 1)
	for _, sum := range sink.summaries {
		assert.Equal(t, track.StateDeleted, sum.State)
		assert.Equal(t, "BP1A2345", sum.PlateText)
		assert.True(t, sum.PlatePublished)
	}
}

func TestDriverCloseFlushesProvisional(t *testing.T) {
	t.Parallel()

	sink := newMemorySink()
	reader := fixedReader{read: PlateRead{Text: "BP1A2345", Confidence: 0.9, OK: true}}
	cfg := testTuning(t, func(c *config.TuningConfig) {
		threshold := 100.0 // unreachable: consensus stays provisional
		c.PublishSupportThreshold = &threshold
	})
	driver, err := New(cfg, reader, sink)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, driver.ProcessFrame(ctx, withPlate(carFrame(i, 0), 0.8)))
	}

	// Streaming summaries never leak provisional text.
	for _, sum := range sink.summaries {
		assert.Empty(t, sum.PlateText)
	}

	require.NoError(t, driver.Close())
	for _, sum := range sink.summaries {
		assert.Equal(t, "BP1A2345", sum.PlateText)
		assert.False(t, sum.PlatePublished)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	t.Parallel()

	a := newMemorySink()
	b := newMemorySink()
	multi := MultiSink{a, b}

	rec := FrameRecord{Frame: 1, TrackID: 2, Car: track.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	require.NoError(t, multi.WriteRecord(rec))
	require.NoError(t, multi.UpsertTrack(TrackSummary{TrackID: 2}))
	require.NoError(t, multi.Close())

	assert.Len(t, a.records, 1)
	assert.Len(t, b.records, 1)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
