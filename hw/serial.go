// Package hw holds the thin adapters between output drivers and Linux
// hardware: a UART, sysfs PWM and GPIO lines, and a Tello SDK session.
// They carry no control logic.
package hw

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// SerialPort is a write-only UART used for line-oriented motor controllers.
type SerialPort struct {
	mu   sync.Mutex
	port serial.Port
	name string
}

// OpenSerial opens name at baud, 8N1.
func OpenSerial(name string, baud int) (*SerialPort, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return &SerialPort{port: port, name: name}, nil
}

func (s *SerialPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial %s: %w", s.name, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("serial %s: short write %d/%d", s.name, n, len(p))
	}
	return n, nil
}

func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
