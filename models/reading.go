package models

import (
	"errors"
	"time"

	"github.com/relvacode/iso8601"
)

const (
	MinRSSI = -127
	MaxRSSI = 20
)

// SignalReading is one detection of the tracked emitter.
type SignalReading struct {
	Strength   int
	ObservedAt time.Time
}

// ReadingRequest is the JSON body accepted on ingress.
type ReadingRequest struct {
	TargetID  string `json:"target_id"`
	RSSI      *int   `json:"rssi"`
	Timestamp string `json:"timestamp"`
}

func (r *ReadingRequest) Validate() error {
	if r.TargetID == "" {
		return errors.New("target_id is required")
	}

	if r.Timestamp == "" {
		return errors.New("timestamp is required")
	}

	if _, err := iso8601.ParseString(r.Timestamp); err != nil {
		return errors.New("invalid timestamp format, expected ISO 8601")
	}

	if r.RSSI == nil {
		return errors.New("rssi is required")
	}

	if *r.RSSI < MinRSSI || *r.RSSI > MaxRSSI {
		return errors.New("rssi must be between -127 and 20")
	}

	return nil
}

// Reading converts a validated request into a SignalReading.
func (r *ReadingRequest) Reading() SignalReading {
	t, err := iso8601.ParseString(r.Timestamp)
	if err != nil {
		t = time.Now()
	}
	var strength int
	if r.RSSI != nil {
		strength = *r.RSSI
	}
	return SignalReading{Strength: strength, ObservedAt: t}
}

type AnalysisResult struct {
	TargetID   string           `json:"target_id"`
	SessionID  string           `json:"session_id"`
	RSSI       int              `json:"rssi"`
	Admitted   bool             `json:"admitted"`
	Mode       string           `json:"mode"`
	Samples    int              `json:"samples"`
	Mean       float64          `json:"mean"`
	StdDev     float64          `json:"std_dev"`
	ZScore     float64          `json:"z_score"`
	Command    ActuationCommand `json:"command"`
	ObservedAt time.Time        `json:"observed_at"`
}
