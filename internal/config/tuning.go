package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the plate pipeline. All
// fields are pointers so a partial JSON file only overrides what it
// names; the Get* methods supply defaults for everything else.
type TuningConfig struct {
	// Detector oracle filtering
	DetectionConfidenceFloor *float64 `json:"detection_confidence_floor,omitempty"`
	PlateConfidenceFloor     *float64 `json:"plate_confidence_floor,omitempty"`
	VehicleClassIDs          []int    `json:"vehicle_class_ids,omitempty"`
	FrameWidth               *float64 `json:"frame_width,omitempty"`
	FrameHeight              *float64 `json:"frame_height,omitempty"`

	// Tracker params
	IOUThreshold      *float64 `json:"iou_threshold,omitempty"`
	GreedyAssociation *bool    `json:"greedy_association,omitempty"`
	MinHits           *int     `json:"min_hits,omitempty"`
	MaxAge            *int     `json:"max_age,omitempty"`

	// Motion model params
	ProcessNoisePos       *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel       *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise      *float64 `json:"measurement_noise,omitempty"`
	ConfidenceScaledNoise *bool    `json:"confidence_scaled_measurement_noise,omitempty"`

	// Consensus params
	OCRConfidenceFloor      *float64 `json:"ocr_confidence_floor,omitempty"`
	ConsensusWindow         *int     `json:"consensus_window,omitempty"`
	PublishSupportThreshold *float64 `json:"publish_support_threshold,omitempty"`
	PlateGrammar            *string  `json:"plate_grammar,omitempty"`
	GrammarStrictness       *string  `json:"grammar_strictness,omitempty"`
	PlatePrefixes           []string `json:"plate_prefixes,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
// Use LoadTuningConfig to load actual values from a defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields
// omitted from the file retain their defaults, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches the current directory and common
// parent directories. Panics if the file cannot be loaded; intended
// for tests and binaries that have already validated availability.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/alpr/*
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set configuration values are in range.
func (c *TuningConfig) Validate() error {
	unitRange := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
		return nil
	}
	if err := unitRange("detection_confidence_floor", c.DetectionConfidenceFloor); err != nil {
		return err
	}
	if err := unitRange("plate_confidence_floor", c.PlateConfidenceFloor); err != nil {
		return err
	}
	if err := unitRange("ocr_confidence_floor", c.OCRConfidenceFloor); err != nil {
		return err
	}
	if err := unitRange("iou_threshold", c.IOUThreshold); err != nil {
		return err
	}

	if c.MinHits != nil && *c.MinHits < 1 {
		return fmt.Errorf("min_hits must be at least 1, got %d", *c.MinHits)
	}
	if c.MaxAge != nil && *c.MaxAge < 1 {
		return fmt.Errorf("max_age must be at least 1, got %d", *c.MaxAge)
	}
	if c.ConsensusWindow != nil && *c.ConsensusWindow < 1 {
		return fmt.Errorf("consensus_window must be at least 1, got %d", *c.ConsensusWindow)
	}
	if c.PublishSupportThreshold != nil && *c.PublishSupportThreshold < 0 {
		return fmt.Errorf("publish_support_threshold must be non-negative, got %f", *c.PublishSupportThreshold)
	}

	if c.PlateGrammar != nil {
		if *c.PlateGrammar == "" {
			return fmt.Errorf("plate_grammar must not be empty")
		}
		for i := 0; i < len(*c.PlateGrammar); i++ {
			if ch := (*c.PlateGrammar)[i]; ch != 'L' && ch != 'D' {
				return fmt.Errorf("plate_grammar position %d: unknown class %q (want L or D)", i, ch)
			}
		}
	}
	if c.GrammarStrictness != nil {
		switch *c.GrammarStrictness {
		case "strict", "prefix":
		default:
			return fmt.Errorf("grammar_strictness must be \"strict\" or \"prefix\", got %q", *c.GrammarStrictness)
		}
	}

	return nil
}

// GetDetectionConfidenceFloor returns the vehicle detection floor or the default.
func (c *TuningConfig) GetDetectionConfidenceFloor() float64 {
	if c.DetectionConfidenceFloor == nil {
		return 0.30
	}
	return *c.DetectionConfidenceFloor
}

// GetPlateConfidenceFloor returns the plate detection floor or the default.
func (c *TuningConfig) GetPlateConfidenceFloor() float64 {
	if c.PlateConfidenceFloor == nil {
		return 0.20
	}
	return *c.PlateConfidenceFloor
}

// GetVehicleClassIDs returns the detector class ids treated as vehicles
// or the default COCO set (car, motorcycle, bus, truck).
func (c *TuningConfig) GetVehicleClassIDs() []int {
	if c.VehicleClassIDs == nil {
		return []int{2, 3, 5, 7}
	}
	return c.VehicleClassIDs
}

// GetFrameWidth returns the frame width for bounds validation; 0 disables.
func (c *TuningConfig) GetFrameWidth() float64 {
	if c.FrameWidth == nil {
		return 0
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the frame height for bounds validation; 0 disables.
func (c *TuningConfig) GetFrameHeight() float64 {
	if c.FrameHeight == nil {
		return 0
	}
	return *c.FrameHeight
}

// GetIOUThreshold returns the association gate or the default.
func (c *TuningConfig) GetIOUThreshold() float64 {
	if c.IOUThreshold == nil {
		return 0.3
	}
	return *c.IOUThreshold
}

// GetGreedyAssociation returns whether greedy matching replaces the
// Hungarian solver.
func (c *TuningConfig) GetGreedyAssociation() bool {
	if c.GreedyAssociation == nil {
		return false
	}
	return *c.GreedyAssociation
}

// GetMinHits returns the confirmation hit count or the default.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits == nil {
		return 3
	}
	return *c.MinHits
}

// GetMaxAge returns the deletion miss budget or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 5
	}
	return *c.MaxAge
}

// GetProcessNoisePos returns the position process noise or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 0.01
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the velocity process noise or the default.
// Deliberately larger than the position noise: scale and aspect-ratio
// velocity are the least predictable parts of the state.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 0.1
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the base measurement noise or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 0.1
	}
	return *c.MeasurementNoise
}

// GetConfidenceScaledNoise returns whether detection confidence scales
// measurement noise inversely.
func (c *TuningConfig) GetConfidenceScaledNoise() bool {
	if c.ConfidenceScaledNoise == nil {
		return true
	}
	return *c.ConfidenceScaledNoise
}

// GetOCRConfidenceFloor returns the consensus admission floor or the default.
func (c *TuningConfig) GetOCRConfidenceFloor() float64 {
	if c.OCRConfidenceFloor == nil {
		return 0.5
	}
	return *c.OCRConfidenceFloor
}

// GetConsensusWindow returns the per-track window size K or the default.
func (c *TuningConfig) GetConsensusWindow() int {
	if c.ConsensusWindow == nil {
		return 10
	}
	return *c.ConsensusWindow
}

// GetPublishSupportThreshold returns the publication support weight or
// the default (roughly three corroborating reads).
func (c *TuningConfig) GetPublishSupportThreshold() float64 {
	if c.PublishSupportThreshold == nil {
		return 2.0
	}
	return *c.PublishSupportThreshold
}

// GetPlateGrammar returns the grammar pattern or the default BP/BT
// family pattern (two letters, one digit, one letter, four digits).
func (c *TuningConfig) GetPlateGrammar() string {
	if c.PlateGrammar == nil {
		return "LLDLDDDD"
	}
	return *c.PlateGrammar
}

// GetGrammarStrictness returns the acceptance policy or the default.
func (c *TuningConfig) GetGrammarStrictness() string {
	if c.GrammarStrictness == nil {
		return "strict"
	}
	return *c.GrammarStrictness
}

// GetPlatePrefixes returns the recognised plate prefixes or the default.
func (c *TuningConfig) GetPlatePrefixes() []string {
	if c.PlatePrefixes == nil {
		return []string{"BP", "BT"}
	}
	return c.PlatePrefixes
}
