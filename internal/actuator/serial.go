package actuator

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	bugserial "go.bug.st/serial"
	"go.uber.org/zap"
)

// AutoPort asks OpenSerial to use the first port the OS reports.
const AutoPort = "auto"

const (
	// DefaultSerialWriteTimeout bounds how long a command waits for room in
	// the write queue.
	DefaultSerialWriteTimeout = 5 * time.Millisecond
	serialQueueSize           = 16
)

// SerialConfig selects the port of a line-protocol motor controller.
type SerialConfig struct {
	Port         string
	BaudRate     uint
	WriteTimeout time.Duration
}

// Serial drives a motor controller speaking a line protocol:
//
//	M <mode>          set control mode (-1 disabled)
//	C <value>         set command
//	G <p> <i> <d> <f> set gains
//	Z                 zero position reference
//
// and reporting "F <pos_rot> <vel_rpm> <volts> <amps>" feedback lines.
// Commands are queued and written by a background writer.
type Serial struct {
	port    io.ReadWriteCloser
	log     *zap.SugaredLogger
	timeout time.Duration

	lines      chan string
	quit       chan struct{}
	writerDone chan struct{}

	mu sync.RWMutex
	fb feedback

	done chan struct{}
}

// OpenSerial opens the port and starts the feedback reader.
func OpenSerial(cfg SerialConfig, log *zap.SugaredLogger) (*Serial, error) {
	name := cfg.Port
	if name == AutoPort || name == "" {
		var err error
		name, err = discoverPort()
		if err != nil {
			return nil, err
		}
	}

	options := serial.OpenOptions{
		PortName:        name,
		BaudRate:        cfg.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(options)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	log.Infof("serial actuator on %s at %d baud", name, cfg.BaudRate)
	return newSerial(port, cfg.WriteTimeout, log), nil
}

func discoverPort() (string, error) {
	ports, err := bugserial.GetPortsList()
	if err != nil {
		return "", errors.Wrap(err, "list serial ports")
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found")
	}
	return ports[0], nil
}

func newSerial(port io.ReadWriteCloser, timeout time.Duration, log *zap.SugaredLogger) *Serial {
	if timeout <= 0 {
		timeout = DefaultSerialWriteTimeout
	}
	s := &Serial{
		port:       port,
		log:        log,
		timeout:    timeout,
		lines:      make(chan string, serialQueueSize),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *Serial) SetControlMode(m ControlMode) error {
	mode := int(m)
	if encodeMode(m) == canModeDisabled {
		mode = int(Disabled)
	}
	return s.send("M %d", mode)
}

func (s *Serial) SetCommand(v float64) error {
	return s.send("C %s", formatFloat(v))
}

func (s *Serial) SetGains(g GainSet) error {
	return s.send("G %s %s %s %s", formatFloat(g.P), formatFloat(g.I), formatFloat(g.D), formatFloat(g.F))
}

func (s *Serial) ResetPositionReference() error {
	return s.send("Z")
}

func (s *Serial) MeasuredPosition() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fb.position
}

func (s *Serial) MeasuredVelocity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fb.velocity
}

func (s *Serial) OutputVoltage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fb.volts
}

func (s *Serial) OutputCurrent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fb.amps
}

func (s *Serial) Close() error {
	close(s.quit)
	err := s.port.Close()
	<-s.writerDone
	<-s.done
	return err
}

// send queues one command line. It fails when the queue stays full for the
// write timeout.
func (s *Serial) send(format string, args ...interface{}) error {
	line := fmt.Sprintf(format+"\n", args...)
	select {
	case s.lines <- line:
		return nil
	default:
	}
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.lines <- line:
		return nil
	case <-timer.C:
		return errors.Errorf("serial write queue full, dropped %q", strings.TrimSpace(line))
	}
}

func (s *Serial) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case <-s.quit:
			return
		case line := <-s.lines:
			if _, err := io.WriteString(s.port, line); err != nil {
				s.log.Warnf("serial write: %v", err)
			}
		}
	}
}

func (s *Serial) readLoop() {
	defer close(s.done)
	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fb, err := parseFeedback(line)
		if err != nil {
			s.log.Debugf("serial: %v", err)
			continue
		}
		s.mu.Lock()
		s.fb = fb
		s.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		s.log.Warnf("serial read stopped: %v", err)
	}
}

func parseFeedback(line string) (feedback, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != "F" {
		return feedback{}, errors.Errorf("unexpected line %q", line)
	}
	var vals [4]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return feedback{}, errors.Wrapf(err, "feedback field %d", i)
		}
		vals[i] = v
	}
	return feedback{position: vals[0], velocity: vals[1], volts: vals[2], amps: vals[3]}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
