package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	MinBoardAddress = 1
	MaxBoardAddress = 127
	PinsPerBoard    = 32
)

var ErrMalformed = errors.New("malformed message")

// PinRef identifies a pin by board address and on-board index.
type PinRef struct {
	Board uint8 `json:"board"`
	Index uint8 `json:"index"`
}

func NewPinRef(board, index int) (PinRef, error) {
	if err := ValidateBoardAddress(board); err != nil {
		return PinRef{}, err
	}
	if index < 0 || index >= PinsPerBoard {
		return PinRef{}, fmt.Errorf("%w: pin index %d out of range 0..%d", ErrMalformed, index, PinsPerBoard-1)
	}
	return PinRef{Board: uint8(board), Index: uint8(index)}, nil
}

func ValidateBoardAddress(board int) error {
	if board < MinBoardAddress || board > MaxBoardAddress {
		return fmt.Errorf("%w: board address %d out of range %d..%d", ErrMalformed, board, MinBoardAddress, MaxBoardAddress)
	}
	return nil
}

// String returns the wire form "board:index".
func (p PinRef) String() string {
	return fmt.Sprintf("%d:%d", p.Board, p.Index)
}

// MarshalBinary encodes the reference in its two-byte wire size.
func (p PinRef) MarshalBinary() ([]byte, error) {
	return []byte{p.Board, p.Index}, nil
}

func (p *PinRef) UnmarshalBinary(data []byte) error {
	if len(data) != 2 {
		return fmt.Errorf("%w: pin reference needs 2 bytes, got %d", ErrMalformed, len(data))
	}
	ref, err := NewPinRef(int(data[0]), int(data[1]))
	if err != nil {
		return err
	}
	*p = ref
	return nil
}

// ParsePinRef parses exactly two colon separated integers.
func ParsePinRef(s string) (PinRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return PinRef{}, fmt.Errorf("%w: pin reference %q needs exactly 2 fields", ErrMalformed, s)
	}

	board, err := strconv.Atoi(parts[0])
	if err != nil {
		return PinRef{}, fmt.Errorf("%w: board in %q: %v", ErrMalformed, s, err)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return PinRef{}, fmt.Errorf("%w: index in %q: %v", ErrMalformed, s, err)
	}

	return NewPinRef(board, index)
}
