package plate

import (
	"github.com/banshee-data/plate.report/internal/config"
)

// ConsensusConfigFromTuning builds a ConsensusConfig from a loaded
// TuningConfig. The grammar pattern is parsed here; the pattern has
// already been validated by config.Validate, so a parse failure means
// the config was constructed by hand and is a programming error.
func ConsensusConfigFromTuning(cfg *config.TuningConfig) (ConsensusConfig, error) {
	g, err := ParseGrammar(cfg.GetPlateGrammar())
	if err != nil {
		return ConsensusConfig{}, err
	}
	return ConsensusConfig{
		Grammar:          g,
		ConfidenceFloor:  cfg.GetOCRConfidenceFloor(),
		WindowSize:       cfg.GetConsensusWindow(),
		PublishThreshold: cfg.GetPublishSupportThreshold(),
		Strictness:       Strictness(cfg.GetGrammarStrictness()),
		Prefixes:         cfg.GetPlatePrefixes(),
	}, nil
}
