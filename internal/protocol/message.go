package protocol

import "strings"

// Kind tags the variant carried by a Message.
type Kind int

const (
	KindUnknown Kind = iota
	KindVoltageLevel
	KindConnectivity
	KindResistances
	KindVoltages
	KindHardware
)

var headers = map[Kind]string{
	KindVoltageLevel: HeaderVoltageLevel,
	KindConnectivity: HeaderConnectivity,
	KindResistances:  HeaderResistances,
	KindVoltages:     HeaderVoltages,
	KindHardware:     HeaderHardware,
}

func (k Kind) Header() string {
	return headers[k]
}

func (k Kind) String() string {
	if h, ok := headers[k]; ok {
		return h
	}
	return "UNKNOWN"
}

// KindFromHeader looks up a header keyword, ignoring case.
func KindFromHeader(header string) (Kind, bool) {
	for k, h := range headers {
		if strings.EqualFold(h, header) {
			return k, true
		}
	}
	return KindUnknown, false
}

// IsConnectivity reports whether messages of this kind carry pin entries.
func (k Kind) IsConnectivity() bool {
	return k == KindConnectivity || k == KindResistances || k == KindVoltages
}

// Entry is one observed connection in a connectivity message.
type Entry struct {
	Pin PinRef
	// Value is a resistance (RESISTANCES) or voltage (VOLTAGES).
	Value    float64
	HasValue bool
}

// Message is a decoded inbound message. Result is false for the
// acknowledge form (no "->" marker) and true for the result form.
type Message struct {
	Kind     Kind
	Argument string
	Result   bool

	// Pin is the master pin of a connectivity message, when given.
	Pin *PinRef
	// Entries for connectivity kinds.
	Entries []Entry
	// Boards for KindHardware.
	Boards []uint8
	// Level for KindVoltageLevel: the reported level in the result form,
	// the echoed argument otherwise.
	Level VoltageLevel
}
