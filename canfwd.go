package vanet

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jd3nn1s/vanet/dashcan"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// to allow testing
var canBusConnect = func(p string) (CANBus, error) {
	c, err := dashcan.Connect(p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type canBusRetryable struct {
	portName string

	mu sync.Mutex
	c  CANBus
}

func (bus *canBusRetryable) Name() string {
	return fmt.Sprintf("dashboard %s", bus.portName)
}

// Open replaces the connection. A failed connect leaves no connection
// behind so senders report an error instead of using a dead bus.
func (bus *canBusRetryable) Open() error {
	c, err := canBusConnect(bus.portName)
	if err != nil {
		c = nil
	}
	bus.mu.Lock()
	bus.c = c
	bus.mu.Unlock()
	return err
}

func (bus *canBusRetryable) Close() error {
	c := bus.CANBus()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (bus *canBusRetryable) Start(ctx context.Context) error {
	c := bus.CANBus()
	if c == nil {
		return errors.New("canbus is not initialized")
	}
	return c.Start(ctx, dashcan.Callbacks{
		Dimmer: func(v int) {
			log.WithField("dimmer", v).Debug("dashboard dimmer changed")
		},
	})
}

func (bus *canBusRetryable) CANBus() CANBus {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return bus.c
}

// CANForwarder mirrors follower state onto the dashboard CAN bus. Frames are
// only published when the value changed since the last send.
type CANForwarder struct {
	canSensorBus *canBusRetryable

	prev  Reading
	speed int
}

func NewCANForwarder(portName string) *CANForwarder {
	return &CANForwarder{
		canSensorBus: &canBusRetryable{portName: portName},
		speed:        -1,
	}
}

// Start keeps the CAN connection open until ctx is done.
func (fwd *CANForwarder) Start(ctx context.Context) error {
	return retry(ctx, fwd.canSensorBus)
}

func (fwd *CANForwarder) SendReading(r Reading) error {
	canBus := fwd.canSensorBus.CANBus()
	if canBus == nil {
		return errors.New("canbus is not initialized")
	}
	speed := int(math.Round(r.Velocity))
	if speed != fwd.speed {
		if err := canBus.SendSpeed(speed); err != nil {
			return errors.Wrapf(err, "unable to send speed to CAN bus")
		}
		fwd.speed = speed
	}
	if r.Brake != fwd.prev.Brake || r.Throttle != fwd.prev.Throttle {
		if err := canBus.SendPedals(int(r.Brake), int(r.Throttle)); err != nil {
			return errors.Wrapf(err, "unable to send pedals to CAN bus")
		}
	}
	fwd.prev = r
	return nil
}

func (fwd *CANForwarder) SendLinkState(lastSeq, relayed int) error {
	canBus := fwd.canSensorBus.CANBus()
	if canBus == nil {
		return errors.New("canbus is not initialized")
	}
	return errors.Wrap(canBus.SendLinkState(lastSeq, relayed), "unable to send link state to CAN bus")
}
