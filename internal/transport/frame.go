package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the size of the little-endian length header that
// precedes every payload in both directions.
const LengthPrefixSize = 4

// DefaultMaxFrameSize bounds the length a peer may announce.
const DefaultMaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrShortFrame    = errors.New("short frame")
)

// EncodeFrame prefixes payload with its length.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame
}

// DecodeFrame parses one complete frame held in data.
func DecodeFrame(data []byte) ([]byte, error) {
	if len(data) < LengthPrefixSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	length := binary.LittleEndian.Uint32(data[:LengthPrefixSize])
	body := data[LengthPrefixSize:]
	if uint32(len(body)) != length {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrShortFrame, length, len(body))
	}

	payload := make([]byte, length)
	copy(payload, body)
	return payload, nil
}

// ReadFrame reads exactly one length prefix and then exactly that many bytes.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(header[:])
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
