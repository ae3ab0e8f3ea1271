package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Split cuts s on the first occurrence of the terminator, repeatedly. The
// returned messages exclude the terminator; rest is the unterminated tail.
func Split(s string) (messages []string, rest string) {
	for {
		i := strings.Index(s, Terminator)
		if i < 0 {
			return messages, s
		}
		messages = append(messages, s[:i])
		s = s[i+len(Terminator):]
	}
}

// Decode parses one message body (terminator already removed).
func Decode(body string) (Message, error) {
	kind, offset := findHeader(body)
	if kind == KindUnknown {
		return Message{}, fmt.Errorf("%w: no known header in %q", ErrMalformed, strings.TrimSpace(body))
	}

	tokens := strings.Fields(body[offset+len(kind.Header()):])

	msg := Message{Kind: kind}
	if len(tokens) > 0 && tokens[0] != ArgumentsStart {
		msg.Argument = tokens[0]
		tokens = tokens[1:]
	}

	var values []string
	if len(tokens) > 0 {
		if tokens[0] != ArgumentsStart {
			return Message{}, fmt.Errorf("%w: expected %q after argument, got %q", ErrMalformed, ArgumentsStart, tokens[0])
		}
		msg.Result = true
		values = tokens[1:]
	}

	var err error
	switch {
	case kind.IsConnectivity():
		err = decodeConnectivity(&msg, values)
	case kind == KindHardware:
		err = decodeHardware(&msg, values)
	case kind == KindVoltageLevel:
		err = decodeVoltageLevel(&msg, values)
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// findHeader returns the header starting earliest in body. On a tie the
// longer keyword wins, so VOLTAGES is never read as VOL.
func findHeader(body string) (Kind, int) {
	best, bestAt := KindUnknown, -1
	for kind, header := range headers {
		at := strings.Index(body, header)
		if at < 0 {
			continue
		}
		if bestAt < 0 || at < bestAt || (at == bestAt && len(header) > len(best.Header())) {
			best, bestAt = kind, at
		}
	}
	return best, bestAt
}

func decodeConnectivity(msg *Message, values []string) error {
	if msg.Argument != "" {
		pin, err := ParsePinRef(msg.Argument)
		if err != nil {
			return fmt.Errorf("master pin: %w", err)
		}
		msg.Pin = &pin
	}

	msg.Entries = make([]Entry, 0, len(values))
	for _, tok := range values {
		entry, err := parseEntry(tok, msg.Kind != KindConnectivity)
		if err != nil {
			return err
		}
		msg.Entries = append(msg.Entries, entry)
	}
	return nil
}

// parseEntry parses "board:index" optionally followed by "(value)".
func parseEntry(tok string, withValue bool) (Entry, error) {
	ref, magnitude, bracketed := tok, "", false
	if open := strings.IndexByte(tok, '('); open >= 0 {
		if !strings.HasSuffix(tok, ")") {
			return Entry{}, fmt.Errorf("%w: unclosed value in %q", ErrMalformed, tok)
		}
		ref, magnitude, bracketed = tok[:open], tok[open+1:len(tok)-1], true
	}

	pin, err := ParsePinRef(ref)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Pin: pin}

	if withValue && bracketed && magnitude == "" {
		return Entry{}, fmt.Errorf("%w: empty value in %q", ErrMalformed, tok)
	}
	if withValue && magnitude != "" {
		v, err := strconv.ParseFloat(magnitude, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: value in %q: %v", ErrMalformed, tok, err)
		}
		entry.Value = v
		entry.HasValue = true
	}
	return entry, nil
}

func decodeHardware(msg *Message, values []string) error {
	msg.Boards = make([]uint8, 0, len(values))
	for _, tok := range values {
		addr, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("%w: board address %q: %v", ErrMalformed, tok, err)
		}
		if err := ValidateBoardAddress(addr); err != nil {
			return err
		}
		msg.Boards = append(msg.Boards, uint8(addr))
	}
	return nil
}

func decodeVoltageLevel(msg *Message, values []string) error {
	if msg.Argument != "" {
		level, err := parseLevel(msg.Argument)
		if err != nil {
			return err
		}
		msg.Level = level
	}

	if !msg.Result {
		return nil
	}
	if len(values) != 1 {
		return fmt.Errorf("%w: voltage level result needs 1 value, got %d", ErrMalformed, len(values))
	}
	level, err := parseLevel(values[0])
	if err != nil {
		return err
	}
	msg.Level = level
	return nil
}

func parseLevel(s string) (VoltageLevel, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: voltage level %q: %v", ErrMalformed, s, err)
	}
	level := VoltageLevel(n)
	if !level.Valid() {
		return 0, fmt.Errorf("%w: voltage level %d out of range", ErrMalformed, n)
	}
	return level, nil
}

const maxPending = 64 * 1024

// Decoder turns a stream of frames into messages. Text after the last
// terminator is held until a later frame completes it.
type Decoder struct {
	pending strings.Builder
	logger  *zap.Logger
}

func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Feed appends data and returns every complete message decoded so far.
// Bodies that fail to decode are logged and skipped.
func (d *Decoder) Feed(data []byte) []Message {
	d.pending.Write(data)
	bodies, rest := Split(d.pending.String())

	d.pending.Reset()
	if len(rest) > maxPending {
		d.logger.Warn("Discarding unterminated input",
			zap.Int("bytes", len(rest)))
		rest = ""
	}
	d.pending.WriteString(rest)

	messages := make([]Message, 0, len(bodies))
	for _, body := range bodies {
		msg, err := Decode(body)
		if err != nil {
			d.logger.Warn("Dropping undecodable message",
				zap.String("body", strings.TrimSpace(body)),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

// Pending returns the unterminated remainder.
func (d *Decoder) Pending() string {
	return d.pending.String()
}
