package boards

import (
	"errors"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/units"
)

const (
	DefaultInResistance    units.Resistance = 1100
	DefaultOutResistance   units.Resistance = 210
	DefaultShuntResistance units.Resistance = 330
	DefaultLowVoltage      units.Voltage    = 0.69
	DefaultHighVoltage     units.Voltage    = 0.93

	bankSize = protocol.PinsPerBoard / 2
)

// wiring maps a physical pin index to its logical multiplexer index. Even
// physical pins sit on bank 0, odd ones on bank 1.
var wiring = func() [protocol.PinsPerBoard]uint8 {
	var t [protocol.PinsPerBoard]uint8
	for i := range t {
		t[i] = uint8((i%2)*bankSize + i/2)
	}
	return t
}()

func LogicalIndex(physical uint8) uint8 {
	return wiring[physical%protocol.PinsPerBoard]
}

// InternalParameters is the per-board calibration.
type InternalParameters struct {
	InResistanceBank0  units.Resistance `json:"in_resistance_bank0"`
	InResistanceBank1  units.Resistance `json:"in_resistance_bank1"`
	OutResistanceBank0 units.Resistance `json:"out_resistance_bank0"`
	OutResistanceBank1 units.Resistance `json:"out_resistance_bank1"`
	ShuntResistance    units.Resistance `json:"shunt_resistance"`
	LowVoltage         units.Voltage    `json:"low_voltage"`
	HighVoltage        units.Voltage    `json:"high_voltage"`
}

func DefaultParameters() InternalParameters {
	return InternalParameters{
		InResistanceBank0:  DefaultInResistance,
		InResistanceBank1:  DefaultInResistance,
		OutResistanceBank0: DefaultOutResistance,
		OutResistanceBank1: DefaultOutResistance,
		ShuntResistance:    DefaultShuntResistance,
		LowVoltage:         DefaultLowVoltage,
		HighVoltage:        DefaultHighVoltage,
	}
}

func (p InternalParameters) Validate() error {
	values := []float64{
		float64(p.InResistanceBank0), float64(p.InResistanceBank1),
		float64(p.OutResistanceBank0), float64(p.OutResistanceBank1),
		float64(p.LowVoltage), float64(p.HighVoltage),
	}
	for _, v := range values {
		if v < 0 {
			return errors.New("calibration values must not be negative")
		}
	}
	if p.ShuntResistance <= 0 {
		return errors.New("shunt resistance must be positive")
	}
	return nil
}

func (p InternalParameters) OutputVoltage(level protocol.VoltageLevel) units.Voltage {
	if level == protocol.VoltageHigh {
		return p.HighVoltage
	}
	return p.LowVoltage
}

// boardRef is a pin's non-owning handle on its board. It only resolves while
// the manager still holds the same generation of that board.
type boardRef struct {
	address    uint8
	generation uint64
}

// IoBoard is one board generation: created when the controller reports the
// address online, discarded wholesale on the next report.
type IoBoard struct {
	Address      uint8
	ControllerID string
	Generation   uint64
	Level        protocol.VoltageLevel
	Params       *InternalParameters
	Pins         [protocol.PinsPerBoard]*Pin
}

func newBoard(address uint8, controllerID string, generation uint64, group PinGroup, ids *IDAllocator) *IoBoard {
	b := &IoBoard{
		Address:      address,
		ControllerID: controllerID,
		Generation:   generation,
	}
	ref := boardRef{address: address, generation: generation}
	for i := range b.Pins {
		b.Pins[i] = newPin(protocol.PinRef{Board: address, Index: uint8(i)}, ids.NextPinID(), group, ref)
	}
	return b
}

// applyParameters copies calibration onto every pin, picking the bank by the
// pin's logical index.
func (b *IoBoard) applyParameters(p InternalParameters) {
	b.Params = &p
	for _, pin := range b.Pins {
		cal := Calibration{
			InResistance:    p.InResistanceBank0,
			OutResistance:   p.OutResistanceBank0,
			ShuntResistance: p.ShuntResistance,
			OutVoltage:      p.OutputVoltage(b.Level),
		}
		if LogicalIndex(pin.Descriptor.Ref.Index) >= bankSize {
			cal.InResistance = p.InResistanceBank1
			cal.OutResistance = p.OutResistanceBank1
		}
		pin.Calibration = cal
	}
}

func (b *IoBoard) setLevel(level protocol.VoltageLevel) {
	b.Level = level
	if b.Params != nil {
		b.applyParameters(*b.Params)
	}
}
