// Package scanner reads serial numbers from a barcode scanner attached to a
// serial port. Each scan arrives as one line terminated by CR, LF or CRLF.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const DefaultBaud = 9600

type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.SerialNumber)
}

// ListPorts returns the available ports, with USB details where the
// platform reports them.
func ListPorts() ([]PortInfo, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil && len(detailed) > 0 {
		out := make([]PortInfo, 0, len(detailed))
		for _, p := range detailed {
			out = append(out, PortInfo{Name: p.Name, IsUSB: p.IsUSB, VID: p.VID, PID: p.PID, SerialNumber: p.SerialNumber})
		}
		return out, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(names))
	for _, n := range names {
		out = append(out, PortInfo{Name: n})
	}
	return out, nil
}

// Scanner delivers scanned lines on Lines until it is closed.
type Scanner struct {
	port   io.ReadCloser
	lines  chan string
	logger *log.Logger
	once   sync.Once
	done   chan struct{}
}

// Open opens the port in 8N1 mode.
func Open(portName string, baud int, logger *log.Logger) (*Scanner, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open scanner port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure scanner port %s: %w", portName, err)
	}
	return New(port, logger), nil
}

// New wraps any line source, which is how tests feed a scanner.
func New(r io.ReadCloser, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{
		port:   r,
		lines:  make(chan string, 8),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *Scanner) Lines() <-chan string { return s.lines }

// Run reads until ctx is cancelled, the port is closed or the reader fails.
// The port and Lines are closed when Run returns.
func (s *Scanner) Run(ctx context.Context) error {
	defer close(s.lines)
	defer s.Close()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	sc := bufio.NewScanner(s.port)
	sc.Split(ScanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case s.lines <- line:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			s.logger.Printf("Scanner: dropped %q, nobody is reading", line)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	if err := sc.Err(); err != nil {
		s.logger.Printf("Scanner read failed: %v", err)
		return err
	}
	return nil
}

func (s *Scanner) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	return err
}

// ScanLines is a bufio.SplitFunc that accepts CR, LF and CRLF terminators.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
			} else if !atEOF {
				// Need one more byte to tell CR from CRLF.
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
