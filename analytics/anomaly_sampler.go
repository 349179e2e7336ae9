package analytics

import (
	"time"

	"rssi-haptics/models"
)

// Mode is the behaviour the sampler is in, derived from the window contents.
type Mode string

const (
	ModeWarmingUp Mode = "warming_up"
	ModeFlat      Mode = "flat"
	ModeScoring   Mode = "scoring"
)

// Evaluation is the full outcome of observing one reading.
type Evaluation struct {
	Admitted bool
	Mode     Mode
	Samples  int
	Mean     float64
	StdDev   float64
	ZScore   float64
	Command  models.ActuationCommand
}

// AnomalySampler gates readings into a RollingWindow and scores each raw
// reading against the window. Calls must be serialized by the caller.
type AnomalySampler struct {
	cfg            IntensityMappingConfig
	window         *RollingWindow
	lastAdmittedAt time.Time
	hasAdmitted    bool
}

func NewAnomalySampler(cfg IntensityMappingConfig) *AnomalySampler {
	return &AnomalySampler{
		cfg:    cfg,
		window: NewRollingWindow(MaxSamples),
	}
}

func (s *AnomalySampler) Observe(reading models.SignalReading) models.ActuationCommand {
	return s.Evaluate(reading).Command
}

// Evaluate runs the debounce gate and then scores the raw reading,
// whether or not it was admitted.
func (s *AnomalySampler) Evaluate(reading models.SignalReading) Evaluation {
	admitted := s.admit(reading)
	ev := s.Score(reading.Strength)
	ev.Admitted = admitted
	return ev
}

func (s *AnomalySampler) admit(reading models.SignalReading) bool {
	if s.hasAdmitted && reading.ObservedAt.Sub(s.lastAdmittedAt) < s.cfg.DebounceInterval {
		return false
	}

	s.window.Add(reading.Strength)
	s.lastAdmittedAt = reading.ObservedAt
	s.hasAdmitted = true
	return true
}

// Score compares strength against the current window without mutating it.
func (s *AnomalySampler) Score(strength int) Evaluation {
	ev := Evaluation{
		Mode:    ModeWarmingUp,
		Samples: s.window.Size(),
		Command: models.None(),
	}

	if ev.Samples < 2 {
		return ev
	}

	ev.Mean = s.window.Mean()
	ev.StdDev = s.window.StdDev(ev.Mean)
	if ev.StdDev == 0 {
		ev.Mode = ModeFlat
		return ev
	}

	ev.Mode = ModeScoring
	ev.ZScore = (float64(strength) - ev.Mean) / ev.StdDev
	ev.Command = models.Pulse(s.cfg.Intensity(ev.ZScore))
	return ev
}

func (s *AnomalySampler) Size() int {
	return s.window.Size()
}

func (s *AnomalySampler) Config() IntensityMappingConfig {
	return s.cfg
}

// Reset ends the sampling session: the window is emptied and the next
// reading is admitted unconditionally.
func (s *AnomalySampler) Reset() {
	s.window.Reset()
	s.lastAdmittedAt = time.Time{}
	s.hasAdmitted = false
}
