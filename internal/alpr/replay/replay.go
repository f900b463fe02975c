// Package replay loads recorded detector output so the pipeline can be
// run offline. The input is JSON Lines: one object per frame carrying
// the vehicle detections, the plate detections, and the OCR read (if
// any) captured for each plate.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/plate.report/internal/alpr/pipeline"
	"github.com/banshee-data/plate.report/internal/alpr/track"
)

type vehicleJSON struct {
	Box     [4]float64 `json:"box"`
	Score   float64    `json:"score"`
	ClassID int        `json:"class_id"`
}

type plateJSON struct {
	Box       [4]float64 `json:"box"`
	Score     float64    `json:"score"`
	Text      string     `json:"text,omitempty"`
	TextScore float64    `json:"text_score,omitempty"`
}

type frameJSON struct {
	Frame    *int          `json:"frame"`
	Vehicles []vehicleJSON `json:"vehicles"`
	Plates   []plateJSON   `json:"plates"`
}

type readKey struct {
	frame int
	box   [4]float64
}

// Source holds a fully parsed replay file. It provides the frame
// sequence and answers OCR lookups for the plate detections it loaded,
// so it plugs in as the pipeline's PlateReader.
type Source struct {
	frames []pipeline.Frame
	reads  map[readKey]pipeline.PlateRead
}

// Open reads and parses the replay file at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()
	src, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// Parse reads JSONL frames from r. Frames missing an explicit frame
// number get the next sequential index. Blank lines are skipped.
func Parse(r io.Reader) (*Source, error) {
	src := &Source{reads: make(map[readKey]pipeline.PlateRead)}

	scanner := bufio.NewScanner(r)
	// Frames with many detections produce long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	nextFrame := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var fj frameJSON
		if err := json.Unmarshal(line, &fj); err != nil {
			return nil, fmt.Errorf("line %d: failed to parse frame: %w", lineNum, err)
		}

		index := nextFrame
		if fj.Frame != nil {
			if *fj.Frame < nextFrame {
				return nil, fmt.Errorf("line %d: frame %d out of order (want >= %d)", lineNum, *fj.Frame, nextFrame)
			}
			index = *fj.Frame
		}
		nextFrame = index + 1

		frame := pipeline.Frame{Index: index}
		for _, v := range fj.Vehicles {
			frame.Vehicles = append(frame.Vehicles, track.Detection{
				Box:        boxFromArray(v.Box),
				Confidence: v.Score,
				ClassID:    v.ClassID,
			})
		}
		for _, p := range fj.Plates {
			det := pipeline.PlateDetection{Box: boxFromArray(p.Box), Score: p.Score}
			frame.Plates = append(frame.Plates, det)
			if p.Text != "" {
				src.reads[readKey{frame: index, box: p.Box}] = pipeline.PlateRead{
					Text:       p.Text,
					Confidence: p.TextScore,
					OK:         true,
				}
			}
		}
		src.frames = append(src.frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read replay input: %w", err)
	}

	return src, nil
}

// Frames returns the parsed frame sequence in order.
func (s *Source) Frames() []pipeline.Frame {
	return s.frames
}

// ReadPlate returns the OCR read recorded for this plate detection, or
// a not-OK read when the capture had none.
func (s *Source) ReadPlate(_ context.Context, frame pipeline.Frame, det pipeline.PlateDetection) (pipeline.PlateRead, error) {
	key := readKey{
		frame: frame.Index,
		box:   [4]float64{det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2},
	}
	if read, ok := s.reads[key]; ok {
		return read, nil
	}
	return pipeline.PlateRead{}, nil
}

func boxFromArray(a [4]float64) track.BBox {
	return track.BBox{X1: a[0], Y1: a[1], X2: a[2], Y2: a[3]}
}
