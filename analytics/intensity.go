package analytics

import (
	"errors"
	"math"
	"time"
)

// IntensityMappingConfig controls admission debounce and the z-score to
// intensity mapping. It is fixed for the lifetime of a sampler.
type IntensityMappingConfig struct {
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	MinZ             float64       `yaml:"min_z"`
	MaxZ             float64       `yaml:"max_z"`
	MaxIntensity     int           `yaml:"max_intensity"`
}

func DefaultIntensityMappingConfig() IntensityMappingConfig {
	return IntensityMappingConfig{
		DebounceInterval: 200 * time.Millisecond,
		MinZ:             0.2,
		MaxZ:             1.75,
		MaxIntensity:     255,
	}
}

func (c IntensityMappingConfig) Validate() error {
	if c.DebounceInterval < 0 {
		return errors.New("debounce_interval must be non-negative")
	}
	if math.IsNaN(c.MinZ) || math.IsNaN(c.MaxZ) || c.MaxZ <= c.MinZ {
		return errors.New("max_z must be greater than min_z")
	}
	if c.MaxIntensity < 2 {
		return errors.New("max_intensity must be at least 2")
	}
	return nil
}

// Intensity maps a z-score to an actuation intensity. Scores at or below
// MinZ give 0, scores at or above MaxZ give MaxIntensity, and the open
// interval between them maps linearly onto 1..MaxIntensity-1.
func (c IntensityMappingConfig) Intensity(zScore float64) int {
	if math.IsNaN(zScore) || zScore <= c.MinZ {
		return 0
	}
	if zScore >= c.MaxZ {
		return c.MaxIntensity
	}

	normalized := (zScore - c.MinZ) / (c.MaxZ - c.MinZ)
	return int(math.Floor(normalized*float64(c.MaxIntensity-1))) + 1
}
