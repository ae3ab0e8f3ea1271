package protocol

import (
	"fmt"
	"strings"
)

// Header keywords, reproduced verbatim from the controller firmware.
const (
	HeaderVoltageLevel = "VOL"
	HeaderConnectivity = "CONNECT"
	HeaderResistances  = "RESISTANCES"
	HeaderVoltages     = "VOLTAGES"
	HeaderHardware     = "HW"

	ArgumentsStart = "->"
	Terminator     = "END"

	flagSequential = "SEQ"
	flagCheck      = "CHECK"
)

// VoltageLevel selects the output rail driven into the pin under test.
type VoltageLevel int

const (
	VoltageLow  VoltageLevel = 0
	VoltageHigh VoltageLevel = 1
)

func (l VoltageLevel) Valid() bool {
	return l == VoltageLow || l == VoltageHigh
}

func (l VoltageLevel) String() string {
	switch l {
	case VoltageLow:
		return "low"
	case VoltageHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// CommandType is the base keyword of an outbound command.
type CommandType int

const (
	CommandSetVoltageLevel CommandType = iota + 1
	CommandCheckConnectivity
	CommandCheckResistances
	CommandCheckVoltages
	CommandGetBoardsOnline
	CommandCheckHardware
)

func (t CommandType) String() string {
	switch t {
	case CommandSetVoltageLevel:
		return "set_voltage_level"
	case CommandCheckConnectivity:
		return "check_connectivity"
	case CommandCheckResistances:
		return "check_resistances"
	case CommandCheckVoltages:
		return "check_voltages"
	case CommandGetBoardsOnline:
		return "get_boards_online"
	case CommandCheckHardware:
		return "check_hardware"
	default:
		return "unknown"
	}
}

// Command is one outbound request line.
type Command struct {
	Type       CommandType
	Level      VoltageLevel
	Pin        *PinRef
	Sequential bool
}

func SetVoltageLevel(level VoltageLevel) Command {
	return Command{Type: CommandSetVoltageLevel, Level: level}
}

func GetBoardsOnline() Command {
	return Command{Type: CommandGetBoardsOnline}
}

func CheckHardware() Command {
	return Command{Type: CommandCheckHardware}
}

// CheckPins builds a connectivity check of the given kind. A nil pin checks
// every pin on the controller.
func CheckPins(kind Kind, pin *PinRef, sequential bool) (Command, error) {
	var t CommandType
	switch kind {
	case KindConnectivity:
		t = CommandCheckConnectivity
	case KindResistances:
		t = CommandCheckResistances
	case KindVoltages:
		t = CommandCheckVoltages
	default:
		return Command{}, fmt.Errorf("kind %s is not a connectivity check", kind)
	}
	return Command{Type: t, Pin: pin, Sequential: sequential}, nil
}

// ResponseKind is the header the controller answers this command with.
func (c Command) ResponseKind() Kind {
	switch c.Type {
	case CommandSetVoltageLevel:
		return KindVoltageLevel
	case CommandCheckConnectivity:
		return KindConnectivity
	case CommandCheckResistances:
		return KindResistances
	case CommandCheckVoltages:
		return KindVoltages
	case CommandGetBoardsOnline, CommandCheckHardware:
		return KindHardware
	default:
		return KindUnknown
	}
}

// Argument is the token the controller echoes back in its acknowledgement.
func (c Command) Argument() string {
	switch c.Type {
	case CommandSetVoltageLevel:
		return fmt.Sprintf("%d", int(c.Level))
	case CommandCheckHardware:
		return flagCheck
	case CommandCheckConnectivity, CommandCheckResistances, CommandCheckVoltages:
		if c.Pin != nil {
			return c.Pin.String()
		}
	}
	return ""
}

// Encode serializes the command to its ASCII line.
func (c Command) Encode() ([]byte, error) {
	kind := c.ResponseKind()
	if kind == KindUnknown {
		return nil, fmt.Errorf("unknown command type %d", c.Type)
	}
	if c.Type == CommandSetVoltageLevel && !c.Level.Valid() {
		return nil, fmt.Errorf("invalid voltage level %d", int(c.Level))
	}

	fields := []string{kind.Header()}
	if arg := c.Argument(); arg != "" {
		fields = append(fields, arg)
	}
	if c.Sequential {
		fields = append(fields, flagSequential)
	}

	return []byte(strings.Join(fields, " ") + "\n"), nil
}

func (c Command) String() string {
	line, err := c.Encode()
	if err != nil {
		return c.Type.String()
	}
	return strings.TrimSpace(string(line))
}
