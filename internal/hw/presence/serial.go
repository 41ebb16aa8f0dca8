package presence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/debug"
	"github.com/ecobrazo/sortarm/internal/hw/serialport"
)

const (
	DefaultBaud = 9600

	// The microcontroller resets when the port opens and needs this long
	// before it prints.
	resetDelay = 2 * time.Second

	idleDelay        = 50 * time.Millisecond
	errorDelay       = 500 * time.Millisecond
	maxConsecutive   = 5
	maxLineLength    = 64
	serialReadBuffer = 64
)

// ErrMonitorStopped is returned once the reader gave up after repeated
// read errors.
var ErrMonitorStopped = errors.New("presence: serial monitor stopped")

// Serial reads the microcontroller's line protocol: one non-negative
// integer per line, 1 while the light barrier is blocked.
type Serial struct {
	port serialport.Port
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	signal  int
	ok      bool
	updated time.Time
	err     error
}

// OpenSerial opens the device and starts reading after the reset delay.
func OpenSerial(path string, opts serialport.Options) (*Serial, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaud
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = time.Second
	}
	p, err := serialport.Open(path, opts)
	if err != nil {
		return nil, err
	}
	debug.Info("Presence sensor on %s", path)
	time.Sleep(resetDelay)
	return NewSerial(p), nil
}

// NewSerial starts a reader on an already open port.
func NewSerial(p serialport.Port) *Serial {
	s := &Serial{port: p, done: make(chan struct{})}
	s.wg.Add(1)
	go s.monitor()
	return s
}

func (s *Serial) monitor() {
	defer s.wg.Done()
	buf := make([]byte, serialReadBuffer)
	var line []byte
	failures := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			failures++
			debug.Warn("presence read error (%d/%d): %v", failures, maxConsecutive, err)
			if failures >= maxConsecutive {
				s.setErr(fmt.Errorf("%w: %w", ErrMonitorStopped, err))
				return
			}
			s.wait(errorDelay)
			continue
		}
		failures = 0
		if n == 0 {
			s.wait(idleDelay)
			continue
		}

		line = append(line, buf[:n]...)
		for {
			i := bytes.IndexByte(line, '\n')
			if i < 0 {
				break
			}
			s.handleLine(line[:i])
			line = line[i+1:]
		}
		if len(line) > maxLineLength {
			debug.Verbose("presence: dropping %d bytes without newline", len(line))
			line = line[:0]
		}
	}
}

func (s *Serial) handleLine(raw []byte) {
	text := string(bytes.TrimSpace(raw))
	if text == "" {
		return
	}
	v, err := strconv.Atoi(text)
	if err != nil || v < 0 {
		debug.Verbose("presence: ignoring line %q", text)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok || s.signal != v {
		debug.Live("presence signal %d", v)
	}
	s.signal, s.ok, s.updated = v, true, time.Now()
}

func (s *Serial) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Serial) wait(d time.Duration) {
	select {
	case <-s.done:
	case <-time.After(d):
	}
}

// Present returns the most recent reading.
func (s *Serial) Present(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal, s.ok, s.err
}

// LastUpdate returns when the last valid line arrived.
func (s *Serial) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.port.Close()
	s.wg.Wait()
	return err
}
