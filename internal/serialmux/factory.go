package serialmux

import (
	"bufio"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is what a SerialMux needs from a port. serial.Port satisfies
// it; tests use TestableSerialPort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// NewRealSerialMux opens the device at path and multiplexes it under name,
// which also prefixes its debug routes.
func NewRealSerialMux(name, path string, opts PortOptions, split bufio.SplitFunc) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s port %s at %d baud: %w", name, path, mode.BaudRate, err)
	}

	return NewSerialMux[serial.Port](name, port, split), nil
}
