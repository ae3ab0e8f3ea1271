package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"
)

// DialTCP opens a TCP duplex to a controller bridge.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", address, err)
	}
	return conn, nil
}

// SerialConfig describes a serial channel, typically a Bluetooth RFCOMM
// emulation such as /dev/rfcomm0.
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// DialSerial opens the serial channel. Reads block until data arrives or the
// port is closed.
func DialSerial(cfg SerialConfig) (io.ReadWriteCloser, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input of %s: %w", cfg.Port, err)
	}
	return port, nil
}
