package reconciler

import (
	"math"

	"github.com/signalsfoundry/missionctl/model"
)

// ChannelLimit bounds one telemetry channel and names the subsystem an
// excursion implicates.
type ChannelLimit struct {
	Channel   string  `yaml:"channel"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
	Subsystem string  `yaml:"subsystem"`
	Type      string  `yaml:"type"`
}

// LimitScorer is a rule-based anomaly scorer: a channel outside its
// configured band is anomalous, with confidence growing with the
// relative excursion. Sophisticated scorers replace it through the
// AnomalyScorer interface.
type LimitScorer struct {
	Limits []ChannelLimit
}

// Score checks each configured limit against the sample. The first
// violated limit wins; history is unused by this scorer.
func (s *LimitScorer) Score(sample model.TelemetrySample, _ []model.TelemetrySample) Verdict {
	for _, lim := range s.Limits {
		v, ok := sample.Channels[lim.Channel]
		if !ok {
			continue
		}
		if v >= lim.Min && v <= lim.Max {
			continue
		}
		span := lim.Max - lim.Min
		if span <= 0 {
			span = 1
		}
		var excursion float64
		if v < lim.Min {
			excursion = lim.Min - v
		} else {
			excursion = v - lim.Max
		}
		confidence := math.Min(1, 0.5+excursion/span)
		return Verdict{
			Anomaly:    true,
			Confidence: confidence,
			Type:       lim.Type,
			Subsystem:  lim.Subsystem,
		}
	}
	return Verdict{}
}
