package actuator

import (
	"context"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"
)

// CAN frame id bases. The node id is added to each base.
const (
	canIDMode     = 0x200
	canIDCommand  = 0x210
	canIDGainsPI  = 0x220
	canIDGainsDF  = 0x230
	canIDResetPos = 0x240
	canIDStatus   = 0x180
	canIDPower    = 0x190

	canModeDisabled = 0xFF
	maxCANNodeID    = 0x3F
)

// DefaultCANTxTimeout bounds a single frame transmit.
const DefaultCANTxTimeout = 5 * time.Millisecond

// CANConfig selects the bus and node of the motor controller.
type CANConfig struct {
	Interface string
	NodeID    uint8
	TxTimeout time.Duration
}

type feedback struct {
	position, velocity float64
	volts, amps        float64
	lastStatus         time.Time
}

// CAN drives a motor controller over SocketCAN. Status frames are received
// by a background goroutine and served from cache.
type CAN struct {
	conn      net.Conn
	tx        *socketcan.Transmitter
	node      uint32
	txTimeout time.Duration
	log       *zap.SugaredLogger

	mu sync.RWMutex
	fb feedback

	done chan struct{}
}

// DialCAN opens the SocketCAN interface and starts the receiver.
func DialCAN(ctx context.Context, cfg CANConfig, log *zap.SugaredLogger) (*CAN, error) {
	if cfg.NodeID > maxCANNodeID {
		return nil, errors.Errorf("CAN node id %d out of range 0-%d", cfg.NodeID, maxCANNodeID)
	}
	conn, err := socketcan.DialContext(ctx, "can", cfg.Interface)
	if err != nil {
		return nil, errors.Wrapf(err, "socketcan dial %s", cfg.Interface)
	}
	log.Infof("CAN actuator on %s node %d", cfg.Interface, cfg.NodeID)
	return newCAN(conn, cfg, log), nil
}

func newCAN(conn net.Conn, cfg CANConfig, log *zap.SugaredLogger) *CAN {
	timeout := cfg.TxTimeout
	if timeout <= 0 {
		timeout = DefaultCANTxTimeout
	}
	c := &CAN{
		conn:      conn,
		tx:        socketcan.NewTransmitter(conn),
		node:      uint32(cfg.NodeID),
		txTimeout: timeout,
		log:       log,
		done:      make(chan struct{}),
	}
	go c.receiveLoop(socketcan.NewReceiver(conn))
	return c
}

func (c *CAN) SetControlMode(m ControlMode) error {
	f := can.Frame{ID: canIDMode + c.node, Length: 1}
	f.Data[0] = encodeMode(m)
	return c.transmit(f)
}

func (c *CAN) SetCommand(v float64) error {
	f := can.Frame{ID: canIDCommand + c.node, Length: 4}
	putFloat32(&f.Data, 0, v)
	return c.transmit(f)
}

func (c *CAN) SetGains(g GainSet) error {
	pi := can.Frame{ID: canIDGainsPI + c.node, Length: 8}
	putFloat32(&pi.Data, 0, g.P)
	putFloat32(&pi.Data, 32, g.I)
	if err := c.transmit(pi); err != nil {
		return err
	}
	df := can.Frame{ID: canIDGainsDF + c.node, Length: 8}
	putFloat32(&df.Data, 0, g.D)
	putFloat32(&df.Data, 32, g.F)
	return c.transmit(df)
}

func (c *CAN) ResetPositionReference() error {
	return c.transmit(can.Frame{ID: canIDResetPos + c.node})
}

func (c *CAN) MeasuredPosition() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb.position
}

func (c *CAN) MeasuredVelocity() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb.velocity
}

func (c *CAN) OutputVoltage() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb.volts
}

func (c *CAN) OutputCurrent() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb.amps
}

// LastStatus returns when the last status frame arrived.
func (c *CAN) LastStatus() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fb.lastStatus
}

func (c *CAN) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *CAN) transmit(f can.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.txTimeout)
	defer cancel()
	if err := c.tx.TransmitFrame(ctx, f); err != nil {
		return errors.Wrapf(err, "transmit frame 0x%03X", f.ID)
	}
	return nil
}

func (c *CAN) receiveLoop(recv *socketcan.Receiver) {
	defer close(c.done)
	for recv.Receive() {
		c.handleFrame(recv.Frame())
	}
	if err := recv.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.Warnf("CAN receive stopped: %v", err)
	}
}

func (c *CAN) handleFrame(f can.Frame) {
	if f.IsRemote || f.Length < 8 {
		return
	}
	switch f.ID {
	case canIDStatus + c.node:
		c.mu.Lock()
		c.fb.position = getFloat32(f.Data, 0)
		c.fb.velocity = getFloat32(f.Data, 32)
		c.fb.lastStatus = time.Now()
		c.mu.Unlock()
	case canIDPower + c.node:
		c.mu.Lock()
		c.fb.volts = getFloat32(f.Data, 0)
		c.fb.amps = getFloat32(f.Data, 32)
		c.mu.Unlock()
	}
}

func encodeMode(m ControlMode) byte {
	switch m {
	case OpenLoop, Velocity, Position, Current:
		return byte(m)
	default:
		return canModeDisabled
	}
}

func putFloat32(d *can.Data, start uint8, v float64) {
	d.SetUnsignedBitsLittleEndian(start, 32, uint64(math.Float32bits(float32(v))))
}

func getFloat32(d can.Data, start uint8) float64 {
	return float64(math.Float32frombits(uint32(d.UnsignedBitsLittleEndian(start, 32))))
}
