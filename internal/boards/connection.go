package boards

import (
	"math"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/units"
)

const (
	DefaultAbsThreshold  = 20.0
	DefaultPctThreshold  = 0.2
	DefaultListThreshold = 1000.0
)

// Thresholds decide when a re-measured connection counts as changed.
type Thresholds struct {
	Abs float64 `mapstructure:"abs_threshold"`
	Pct float64 `mapstructure:"pct_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Abs: DefaultAbsThreshold, Pct: DefaultPctThreshold}
}

// Connection is one observed link from a master pin to Target.
type Connection struct {
	Target     protocol.PinRef   `json:"target"`
	Voltage    *units.Voltage    `json:"voltage,omitempty"`
	Resistance *units.Resistance `json:"resistance,omitempty"`
	Raw        *int              `json:"raw,omitempty"`

	ChangedFromPrevious bool `json:"changed_from_previous"`
	FirstOccurrence     bool `json:"first_occurrence"`
}

// DifferentFrom compares c with the previous measurement to the same target.
// A nil prev means the target was not connected before.
func (c Connection) DifferentFrom(prev *Connection, th Thresholds) bool {
	if prev == nil || prev.Target != c.Target {
		return true
	}

	switch {
	case c.Resistance != nil:
		if prev.Resistance == nil {
			return true
		}
		return exceeds(float64(*c.Resistance), float64(*prev.Resistance), th)
	case c.Voltage != nil:
		if prev.Voltage == nil {
			return true
		}
		return exceeds(float64(*c.Voltage), float64(*prev.Voltage), th)
	default:
		return false
	}
}

func exceeds(current, previous float64, th Thresholds) bool {
	return math.Abs(current-previous) > th.Abs+th.Pct*math.Abs(current)
}

func findConnection(conns []Connection, target protocol.PinRef) *Connection {
	for i := range conns {
		if conns[i].Target == target {
			return &conns[i]
		}
	}
	return nil
}

// CheckIfConnectionsListIsDifferent reports whether the move from previous to
// current is a real change. Appearing or disappearing entries only count when
// they carry no resistance or one below threshold; high-resistance entries
// coming and going are noise.
func CheckIfConnectionsListIsDifferent(previous, current []Connection, threshold float64) bool {
	significant := func(c Connection) bool {
		return c.Resistance == nil || float64(*c.Resistance) < threshold
	}

	for _, c := range current {
		if findConnection(previous, c.Target) == nil && significant(c) {
			return true
		}
	}
	for _, c := range previous {
		if findConnection(current, c.Target) == nil && significant(c) {
			return true
		}
	}
	return false
}
