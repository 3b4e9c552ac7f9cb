package camera

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Serial drives the sensor's auxiliary control channel (LED, tilt motor)
// over a real serial port. It does not read frames: the frame reader given
// to OpenSerial is kept but never read, and the Frames channel never
// delivers a frame.
type Serial struct {
	mu       sync.Mutex
	port     serial.Port
	frameSrc io.Reader
	frames   chan Frame
	cancel   context.CancelFunc
}

// OpenSerial opens the control-channel serial port at path. frameSrc is
// stored on the returned Serial but is not read by it.
func OpenSerial(path string, baud int, frameSrc io.Reader) (*Serial, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening camera control port %s: %w", path, err)
	}
	return &Serial{
		port:     port,
		frameSrc: frameSrc,
		frames:   make(chan Frame, 4),
	}, nil
}

func (s *Serial) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.port.Write([]byte(cmd + "\n"))
	return err
}

func (s *Serial) StartDepth(ctx context.Context) error { return s.send("START DEPTH") }
func (s *Serial) StopDepth(ctx context.Context) error  { return s.send("STOP DEPTH") }
func (s *Serial) StartVideo(ctx context.Context) error { return s.send("START VIDEO") }
func (s *Serial) StopVideo(ctx context.Context) error  { return s.send("STOP VIDEO") }

func (s *Serial) SetLED(ctx context.Context, led LED) error {
	return s.send(fmt.Sprintf("LED %d", int(led)))
}

func (s *Serial) SetTilt(ctx context.Context, degrees int) error {
	if degrees < -15 {
		degrees = -15
	}
	if degrees > 15 {
		degrees = 15
	}
	return s.send(fmt.Sprintf("TILT %d", degrees))
}

func (s *Serial) Frames() <-chan Frame {
	return s.frames
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return s.port.Close()
}
