package link

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenSerial opens a serial port at 8N1. Reads time out after
// opts.ReadTimeout so a cancelled session is noticed promptly.
func OpenSerial(path string, baudRate int, opts Options) (*StreamTransport, error) {
	opts = opts.withDefaults()
	if baudRate <= 0 {
		baudRate = 115200
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("link: open serial %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("link: set read timeout on %s: %w", path, err)
	}

	name := Endpoint{Kind: KindSerial, Address: path, BaudRate: baudRate}.String()
	return NewStreamTransport(port, name, opts), nil
}
