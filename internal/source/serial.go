package source

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Legacy CurrentCost EnviR cable defaults.
const (
	DefaultSerialPath = "/dev/serial/by-id/usb-Prolific_Technology_Inc._USB-Serial_Controller-if00-port0"
	DefaultBaudRate   = 57600
)

// SerialConfig selects the device and line speed. The port is always 8N1.
type SerialConfig struct {
	Path     string
	BaudRate int
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.Path == "" {
		c.Path = DefaultSerialPath
	}
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	return c
}

// OpenPort opens the serial device. Tests replace it.
var OpenPort = func(path string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(path, mode)
}

// OpenSerial opens the configured serial port as a line source.
func OpenSerial(cfg SerialConfig) (LineSource, error) {
	cfg = cfg.withDefaults()
	port, err := OpenPort(cfg.Path, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Path, err)
	}
	return newLineReader(port), nil
}

// SerialOpener returns an Opener for cfg.
func SerialOpener(cfg SerialConfig) Opener {
	return func() (LineSource, error) { return OpenSerial(cfg) }
}
