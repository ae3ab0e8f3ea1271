package boards

import (
	"strconv"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/KevinKickass/OpenHarnessCore/internal/units"
)

type PinGroup struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func (g PinGroup) PrettyName() string {
	if g.Name != "" {
		return g.Name
	}
	return strconv.Itoa(g.ID)
}

type PinDescriptor struct {
	Ref      protocol.PinRef `json:"ref"`
	UniqueID int             `json:"unique_id"`
	Name     string          `json:"name,omitempty"`
	Group    *PinGroup       `json:"group,omitempty"`
}

// ClearPinAndGroupNames drops pinout naming but keeps the group id.
func (d *PinDescriptor) ClearPinAndGroupNames() {
	d.Name = ""
	if d.Group != nil {
		g := PinGroup{ID: d.Group.ID}
		d.Group = &g
	}
}

func (d PinDescriptor) PrettyName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Ref.String()
}

// Calibration values used when converting raw readings. Zero means unset.
type Calibration struct {
	InResistance    units.Resistance `json:"in_resistance"`
	OutResistance   units.Resistance `json:"out_resistance"`
	ShuntResistance units.Resistance `json:"shunt_resistance"`
	OutVoltage      units.Voltage    `json:"out_voltage"`
}

// Pin is owned by its board and mutated only under the manager's lock.
type Pin struct {
	Descriptor  PinDescriptor
	Calibration Calibration

	board boardRef

	connections []Connection
	// nil means nothing is expected of this pin.
	expected           []protocol.PinRef
	unexpected         []protocol.PinRef
	missingExpected    []protocol.PinRef
	healthy            bool
	connectionsChanged bool
}

func newPin(ref protocol.PinRef, uniqueID int, group PinGroup, board boardRef) *Pin {
	g := group
	return &Pin{
		Descriptor: PinDescriptor{Ref: ref, UniqueID: uniqueID, Group: &g},
		board:      board,
	}
}

func (p *Pin) Ref() protocol.PinRef {
	return p.Descriptor.Ref
}

func (p *Pin) Connections() []Connection {
	return p.connections
}

func (p *Pin) Healthy() bool {
	return p.healthy
}

// SetConnections commits a new connection list and recomputes everything
// derived from it.
func (p *Pin) SetConnections(conns []Connection) {
	p.connections = conns
	p.recompute()
}

func (p *Pin) setExpected(refs []protocol.PinRef) {
	p.expected = refs
	p.recompute()
}

func (p *Pin) addExpected(ref protocol.PinRef) {
	if p.expected == nil {
		p.expected = []protocol.PinRef{}
	}
	if containsRef(p.expected, ref) {
		return
	}
	p.expected = append(p.expected, ref)
}

func (p *Pin) recompute() {
	self := p.Descriptor.Ref
	p.healthy = findConnection(p.connections, self) != nil

	if p.expected == nil {
		p.unexpected = nil
		p.missingExpected = nil
		return
	}

	p.unexpected = []protocol.PinRef{}
	for _, c := range p.connections {
		if c.Target != self && !containsRef(p.expected, c.Target) {
			p.unexpected = append(p.unexpected, c.Target)
		}
	}

	p.missingExpected = []protocol.PinRef{}
	for _, ref := range p.expected {
		if findConnection(p.connections, ref) == nil {
			p.missingExpected = append(p.missingExpected, ref)
		}
	}
}

func containsRef(refs []protocol.PinRef, ref protocol.PinRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// PinSnapshot is a detached copy of a pin for readers outside the manager.
type PinSnapshot struct {
	Descriptor         PinDescriptor     `json:"descriptor"`
	Calibration        Calibration       `json:"calibration"`
	Connections        []Connection      `json:"connections"`
	Expected           []protocol.PinRef `json:"expected,omitempty"`
	Unexpected         []protocol.PinRef `json:"unexpected,omitempty"`
	MissingExpected    []protocol.PinRef `json:"missing_expected,omitempty"`
	Healthy            bool              `json:"healthy"`
	ConnectionsChanged bool              `json:"connections_changed"`
}

func (p *Pin) snapshot() PinSnapshot {
	d := p.Descriptor
	if d.Group != nil {
		g := *d.Group
		d.Group = &g
	}
	return PinSnapshot{
		Descriptor:         d,
		Calibration:        p.Calibration,
		Connections:        cloneConnections(p.connections),
		Expected:           cloneRefs(p.expected),
		Unexpected:         cloneRefs(p.unexpected),
		MissingExpected:    cloneRefs(p.missingExpected),
		Healthy:            p.healthy,
		ConnectionsChanged: p.connectionsChanged,
	}
}

func cloneConnections(conns []Connection) []Connection {
	if conns == nil {
		return nil
	}
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}

func cloneRefs(refs []protocol.PinRef) []protocol.PinRef {
	if refs == nil {
		return nil
	}
	out := make([]protocol.PinRef, len(refs))
	copy(out, refs)
	return out
}
