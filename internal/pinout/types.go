package pinout

import (
	"context"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
)

// Label names a pin the way the pinout document does: a group (connector)
// label plus a pin label inside it.
type Label struct {
	Group string `yaml:"group" json:"group"`
	Pin   string `yaml:"pin" json:"pin"`
}

type PinMapping struct {
	Label string `yaml:"label" json:"label"`
	Board int    `yaml:"board" json:"board"`
	Index int    `yaml:"index" json:"index"`
}

func (m PinMapping) Ref() (protocol.PinRef, error) {
	return protocol.NewPinRef(m.Board, m.Index)
}

type Group struct {
	Name string       `yaml:"name" json:"name"`
	Pins []PinMapping `yaml:"pins" json:"pins"`
}

type ExpectedConnection struct {
	ForPin        Label   `yaml:"for_pin" json:"for_pin"`
	IsConnectedTo []Label `yaml:"is_connected_to" json:"is_connected_to"`
}

// Interpretation is a parsed pinout: named groups and the connections the
// harness is expected to have.
type Interpretation struct {
	Groups              []Group              `yaml:"groups" json:"groups"`
	ExpectedConnections []ExpectedConnection `yaml:"expected_connections" json:"expected_connections"`
}

// Source provides pinout interpretations.
type Source interface {
	Load(ctx context.Context) (*Interpretation, error)
}
