package track

import (
	"github.com/banshee-data/plate.report/internal/config"
)

// ManagerConfigFromTuning builds a ManagerConfig from a loaded
// TuningConfig. Use this in production code where the TuningConfig is
// already loaded.
func ManagerConfigFromTuning(cfg *config.TuningConfig) ManagerConfig {
	return ManagerConfig{
		MinHits:           cfg.GetMinHits(),
		MaxAge:            cfg.GetMaxAge(),
		IOUThreshold:      cfg.GetIOUThreshold(),
		GreedyAssociation: cfg.GetGreedyAssociation(),
		FrameWidth:        cfg.GetFrameWidth(),
		FrameHeight:       cfg.GetFrameHeight(),
		Motion: MotionConfig{
			ProcessNoisePos:       cfg.GetProcessNoisePos(),
			ProcessNoiseVel:       cfg.GetProcessNoiseVel(),
			MeasurementNoise:      cfg.GetMeasurementNoise(),
			ConfidenceScaledNoise: cfg.GetConfidenceScaledNoise(),
		},
	}
}
