package boards

import (
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/units"
)

const (
	adcFullScale        = 1023.0
	adcReferenceVoltage = 1.1
)

// Observation is one newly observed connection from a master pin. It carries
// either a measured value, a raw ADC code, or neither (identity only).
type Observation struct {
	Target     protocol.PinRef
	Resistance *units.Resistance
	Voltage    *units.Voltage
	Raw        *int
}

// ObservationsFromMessage converts the entries of a connectivity result.
func ObservationsFromMessage(msg protocol.Message) []Observation {
	obs := make([]Observation, 0, len(msg.Entries))
	for _, e := range msg.Entries {
		o := Observation{Target: e.Pin}
		if e.HasValue {
			switch msg.Kind {
			case protocol.KindResistances:
				r := units.Resistance(e.Value)
				o.Resistance = &r
			case protocol.KindVoltages:
				v := units.Voltage(e.Value)
				o.Voltage = &v
			}
		}
		obs = append(obs, o)
	}
	return obs
}

// effective fills unset calibration values with the standard fallbacks.
func (c Calibration) effective(level protocol.VoltageLevel) Calibration {
	if c.InResistance == 0 {
		c.InResistance = DefaultInResistance
	}
	if c.OutResistance == 0 {
		c.OutResistance = DefaultOutResistance
	}
	if c.ShuntResistance == 0 {
		c.ShuntResistance = DefaultShuntResistance
	}
	if c.OutVoltage == 0 {
		c.OutVoltage = DefaultLowVoltage
		if level == protocol.VoltageHigh {
			c.OutVoltage = DefaultHighVoltage
		}
	}
	return c
}

// ConvertRaw turns a 10-bit ADC code into the sensed voltage and the
// resistance of the path under test. A code of zero or less means no current
// flowed, so no resistance is reported.
func ConvertRaw(raw int, cal Calibration) (units.Voltage, *units.Resistance) {
	sensed := float64(raw) / adcFullScale * adcReferenceVoltage
	if raw <= 0 {
		return units.Voltage(sensed), nil
	}

	current := sensed / float64(cal.ShuntResistance)
	total := float64(cal.OutVoltage) / current
	r := total - float64(cal.InResistance) - float64(cal.OutResistance) - float64(cal.ShuntResistance)
	if r < 0 {
		r = 0
	}
	res := units.Resistance(r)
	return units.Voltage(sensed), &res
}

func (o Observation) toConnection(cal Calibration) Connection {
	c := Connection{
		Target:     o.Target,
		Resistance: o.Resistance,
		Voltage:    o.Voltage,
	}
	if o.Raw != nil && o.Resistance == nil && o.Voltage == nil {
		raw := *o.Raw
		v, r := ConvertRaw(raw, cal)
		c.Raw = &raw
		c.Voltage = &v
		c.Resistance = r
	}
	return c
}
