package boards

import (
	"fmt"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
)

// PinBucket is one partition of GroupPins: a named group or a board.
type PinBucket struct {
	Name string        `json:"name"`
	Pins []PinSnapshot `json:"pins"`
}

// GroupPins partitions all pins into one bucket per named group and one per
// board for pins without a named group. Buckets and their members keep the
// order in which they are first met walking boards by address.
func (m *Manager) GroupPins() []PinBucket {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var buckets []PinBucket
	index := make(map[string]int)

	for _, addr := range m.addressesLocked() {
		for _, pin := range m.boards[addr].Pins {
			key := fmt.Sprintf("board:%d", addr)
			name := fmt.Sprintf("Board %d", addr)
			if g := pin.Descriptor.Group; g != nil && g.Name != "" {
				key = groupKey(g.Name)
				name = g.Name
			}

			i, ok := index[key]
			if !ok {
				i = len(buckets)
				index[key] = i
				buckets = append(buckets, PinBucket{Name: name})
			}
			buckets[i].Pins = append(buckets[i].Pins, pin.snapshot())
		}
	}
	return buckets
}

// ExportRow is a flattened pin with its connections rendered for display.
type ExportRow struct {
	Group       string   `json:"group"`
	Pin         string   `json:"pin"`
	Ref         string   `json:"ref"`
	Healthy     bool     `json:"healthy"`
	Connections []string `json:"connections"`
	Unexpected  []string `json:"unexpected,omitempty"`
	Missing     []string `json:"missing,omitempty"`
}

type ExportGroup struct {
	Name string      `json:"name"`
	Rows []ExportRow `json:"rows"`
}

// Export renders GroupPins with pin names in place of raw references.
func (m *Manager) Export() []ExportGroup {
	buckets := m.GroupPins()

	names := make(map[protocol.PinRef]string)
	for _, b := range buckets {
		for _, p := range b.Pins {
			names[p.Descriptor.Ref] = displayName(p.Descriptor)
		}
	}
	nameOf := func(ref protocol.PinRef) string {
		if n, ok := names[ref]; ok {
			return n
		}
		return ref.String()
	}

	out := make([]ExportGroup, 0, len(buckets))
	for _, b := range buckets {
		g := ExportGroup{Name: b.Name, Rows: make([]ExportRow, 0, len(b.Pins))}
		for _, p := range b.Pins {
			row := ExportRow{
				Group:       b.Name,
				Pin:         p.Descriptor.PrettyName(),
				Ref:         p.Descriptor.Ref.String(),
				Healthy:     p.Healthy,
				Connections: make([]string, 0, len(p.Connections)),
			}
			for _, c := range p.Connections {
				if c.Target == p.Descriptor.Ref {
					continue
				}
				cell := nameOf(c.Target)
				switch {
				case c.Resistance != nil:
					cell += " (" + c.Resistance.String() + ")"
				case c.Voltage != nil:
					cell += " (" + c.Voltage.String() + ")"
				}
				row.Connections = append(row.Connections, cell)
			}
			for _, ref := range p.Unexpected {
				row.Unexpected = append(row.Unexpected, nameOf(ref))
			}
			for _, ref := range p.MissingExpected {
				row.Missing = append(row.Missing, nameOf(ref))
			}
			g.Rows = append(g.Rows, row)
		}
		out = append(out, g)
	}
	return out
}

func displayName(d PinDescriptor) string {
	if d.Group != nil && d.Group.Name != "" && d.Name != "" {
		return d.Group.Name + "." + d.Name
	}
	return d.PrettyName()
}
