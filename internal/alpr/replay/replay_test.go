package replay

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plate.report/internal/alpr/pipeline"
	"github.com/banshee-data/plate.report/internal/alpr/track"
)

const sampleJSONL = `{"frame":0,"vehicles":[{"box":[100,100,300,250],"score":0.91,"class_id":2}],"plates":[]}

{"frame":1,"vehicles":[{"box":[110,100,310,250],"score":0.88,"class_id":2}],"plates":[{"box":[180,200,240,230],"score":0.75,"text":"BP1A2345","text_score":0.9}]}
{"vehicles":[{"box":[120,100,320,250],"score":0.9,"class_id":2}]}
`

func TestParseFrames(t *testing.T) {
	t.Parallel()

	src, err := Parse(strings.NewReader(sampleJSONL))
	require.NoError(t, err)

	frames := src.Frames()
	require.Len(t, frames, 3)

	expected := pipeline.Frame{
		Index: 0,
		Vehicles: []track.Detection{
			{Box: track.BBox{X1: 100, Y1: 100, X2: 300, Y2: 250}, Confidence: 0.91, ClassID: 2},
		},
	}
	if diff := cmp.Diff(expected, frames[0]); diff != "" {
		t.Errorf("frame 0 mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, frames[1].Plates, 1)
	assert.InDelta(t, 0.75, frames[1].Plates[0].Score, 1e-9)

	// Missing frame number continues the sequence.
	assert.Equal(t, 2, frames[2].Index)
}

func TestParseRejectsOutOfOrderFrames(t *testing.T) {
	t.Parallel()

	input := `{"frame":5,"vehicles":[]}
{"frame":3,"vehicles":[]}
`
	_, err := Parse(strings.NewReader(input))
	assert.Error(t, err)
}

func TestParseRejectsMalformedLine(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader(`{"frame":0`))
	assert.Error(t, err)
}

func TestReadPlateLookup(t *testing.T) {
	t.Parallel()

	src, err := Parse(strings.NewReader(sampleJSONL))
	require.NoError(t, err)

	frames := src.Frames()
	ctx := context.Background()

	t.Run("returns the captured read", func(t *testing.T) {
		t.Parallel()
		read, err := src.ReadPlate(ctx, frames[1], frames[1].Plates[0])
		require.NoError(t, err)
		assert.True(t, read.OK)
		assert.Equal(t, "BP1A2345", read.Text)
		assert.InDelta(t, 0.9, read.Confidence, 1e-9)
	})

	t.Run("no read captured", func(t *testing.T) {
		t.Parallel()
		// Same detection queried against the wrong frame.
		read, err := src.ReadPlate(ctx, frames[0], frames[1].Plates[0])
		require.NoError(t, err)
		assert.False(t, read.OK)
	})
}
