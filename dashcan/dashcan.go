package dashcan

import (
	"context"
	"encoding/binary"

	"github.com/brutella/can"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	frameSpeed     uint32 = 0x103
	framePedals           = 0x104
	frameLinkState        = 0x105
	frameDimmer           = 0x110
)

type IntResultFn func(v int)

// Callbacks are invoked for frames the dashboard sends back to the vehicle.
type Callbacks struct {
	Dimmer IntResultFn
}

type CANBus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

// Connection publishes the vehicle's view of the platoon to the dashboard.
type Connection struct {
	bus CANBus
	cb  Callbacks
}

// to allow testing
var newBus = func(portName string) (CANBus, error) {
	return can.NewBusForInterfaceWithName(portName)
}

func Connect(portName string) (*Connection, error) {
	bus, err := newBus(portName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open can interface %s", portName)
	}
	return &Connection{
		bus: bus,
	}, nil
}

func (c *Connection) Start(ctx context.Context, cb Callbacks) error {
	c.cb = cb
	c.bus.SubscribeFunc(c.handleFrame)
	log.Info("dashboard CAN bus opened and subscribed")

	go func() {
		<-ctx.Done()
		log.Infof("stopping dashboard can bus: %v", ctx.Err())
		if err := c.bus.Disconnect(); err != nil {
			log.WithField("err", err).Warn("unable to disconnect canbus after context")
		}
	}()

	return c.bus.ConnectAndPublish()
}

func (c *Connection) Close() error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Disconnect()
}

func (c *Connection) SendSpeed(speed int) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	log.WithField("speed", speed).Debug("sending speed over canbus")
	frame := can.Frame{
		ID:     frameSpeed,
		Length: 2,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(speed))
	return c.bus.Publish(frame)
}

// SendPedals publishes brake and throttle as whole percentages.
func (c *Connection) SendPedals(brake, throttle int) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	return c.bus.Publish(can.Frame{
		ID:     framePedals,
		Length: 2,
		Data:   [8]uint8{uint8(brake), uint8(throttle)},
	})
}

// SendLinkState publishes the last sequence received from the lead and the
// number of packets this vehicle relayed for others.
func (c *Connection) SendLinkState(lastSeq, relayed int) error {
	if c.bus == nil {
		return errors.New("can bus not connected")
	}
	frame := can.Frame{
		ID:     frameLinkState,
		Length: 4,
	}
	binary.LittleEndian.PutUint16(frame.Data[0:2], uint16(lastSeq))
	binary.LittleEndian.PutUint16(frame.Data[2:4], uint16(relayed))
	return c.bus.Publish(frame)
}

func (c *Connection) handleFrame(frame can.Frame) {
	log.WithField("canID", frame.ID).
		WithField("length", frame.Length).
		Debug("received canbus frame")

	var cb IntResultFn
	switch frame.ID {
	case frameDimmer:
		cb = c.cb.Dimmer
	default:
		log.WithField("canID", frame.ID).Debug("ignoring canID")
		return
	}

	if cb == nil {
		log.WithField("canID", frame.ID).Debug("no callback registered")
		return
	}

	v, err := uint16Result(frame)
	if err != nil {
		log.WithField("err", err).Error("unable to convert to uint16")
		return
	}
	cb(v)
}

func uint16Result(frame can.Frame) (int, error) {
	if frame.Length != 2 {
		return 0, errors.Errorf("incorrect frame size for uint16: %v", frame.Length)
	}
	return int(binary.LittleEndian.Uint16(frame.Data[0:2])), nil
}
