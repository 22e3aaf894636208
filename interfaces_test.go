package vanet

import (
	"context"

	"github.com/jd3nn1s/vanet/dashcan"
)

type canBusStub struct {
	startChan chan struct{}
	errChan   chan error
	fnChan    chan func()
	callbacks dashcan.Callbacks

	speed          int
	speedCallCount int
	brake          int
	throttle       int
	pedalCallCount int
	lastSeq        int
	relayed        int
	sendErr        error
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		startChan: make(chan struct{}),
		errChan:   make(chan error),
		fnChan:    make(chan func()),
	}
}

func (c *canBusStub) Close() error {
	return nil
}

func (c *canBusStub) Start(ctx context.Context, callbacks dashcan.Callbacks) error {
	c.callbacks = callbacks
	select {
	case c.startChan <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.errChan:
			return err
		case fn := <-c.fnChan:
			fn()
		}
	}
}

func (c *canBusStub) SendSpeed(speed int) error {
	c.speedCallCount++
	c.speed = speed
	return c.sendErr
}

func (c *canBusStub) SendPedals(brake, throttle int) error {
	c.pedalCallCount++
	c.brake = brake
	c.throttle = throttle
	return c.sendErr
}

func (c *canBusStub) SendLinkState(lastSeq, relayed int) error {
	c.lastSeq = lastSeq
	c.relayed = relayed
	return c.sendErr
}
