package session

type State string

const (
	StateIdle                State = "idle"
	StateAwaitingAcknowledge State = "awaiting_acknowledge"
	StateAwaitingResult      State = "awaiting_result"
)

// Outcome is the typed result of one command transaction.
type Outcome int

const (
	Success Outcome = iota
	ProtocolNack
	AckTimeout
	PerformanceTimeout
	PerformanceFailure
	CommunicationFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case ProtocolNack:
		return "PROTOCOL_NACK"
	case AckTimeout:
		return "ACK_TIMEOUT"
	case PerformanceTimeout:
		return "PERFORMANCE_TIMEOUT"
	case PerformanceFailure:
		return "PERFORMANCE_FAILURE"
	case CommunicationFailure:
		return "COMMUNICATION_FAILURE"
	default:
		return "UNKNOWN"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
