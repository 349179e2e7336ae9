package models

import "time"

type CommandKind string

const (
	CommandNone  CommandKind = "none"
	CommandPulse CommandKind = "pulse"
	// CommandCancel stops whatever waveform the device is playing.
	CommandCancel CommandKind = "cancel"
)

// Host waveform for one pulse: on at the commanded amplitude, then off, repeating.
const (
	PulseOnDuration  = 40 * time.Millisecond
	PulseOffDuration = 60 * time.Millisecond
)

// ActuationCommand is either None or Pulse(intensity).
type ActuationCommand struct {
	Kind      CommandKind `json:"kind"`
	Intensity int         `json:"intensity,omitempty"`
}

func None() ActuationCommand {
	return ActuationCommand{Kind: CommandNone}
}

// Pulse returns a pulse command. Non-positive intensities collapse to None.
func Pulse(intensity int) ActuationCommand {
	if intensity <= 0 {
		return None()
	}
	return ActuationCommand{Kind: CommandPulse, Intensity: intensity}
}

func Cancel() ActuationCommand {
	return ActuationCommand{Kind: CommandCancel}
}

func (c ActuationCommand) IsCancel() bool {
	return c.Kind == CommandCancel
}

func (c ActuationCommand) IsPulse() bool {
	return c.Kind == CommandPulse && c.Intensity > 0
}

type PulsePattern struct {
	Timings     []time.Duration `json:"timings"`
	Amplitudes  []int           `json:"amplitudes"`
	RepeatIndex int             `json:"repeat_index"`
}

// Pattern returns the waveform a host should play for the command, or nil for None.
func (c ActuationCommand) Pattern() *PulsePattern {
	if !c.IsPulse() {
		return nil
	}
	return &PulsePattern{
		Timings:     []time.Duration{PulseOnDuration, PulseOffDuration},
		Amplitudes:  []int{c.Intensity, 0},
		RepeatIndex: 0,
	}
}
