package dashcan

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/brutella/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busStub struct {
	disconnected bool
	subscribed   bool
	stopChan     chan struct{}
	startedChan  chan struct{}
	publishChan  chan *can.Frame
}

func (bus *busStub) SubscribeFunc(can.HandlerFunc) {
	bus.subscribed = true
}

func (bus *busStub) ConnectAndPublish() error {
	bus.startedChan <- struct{}{}
	<-bus.stopChan
	return nil
}

func (bus *busStub) Disconnect() error {
	bus.disconnected = true
	bus.stopChan <- struct{}{}
	return nil
}

func (bus *busStub) Publish(f can.Frame) error {
	bus.publishChan <- &f
	return nil
}

func TestConnect(t *testing.T) {
	origNewBus := newBus
	bus := &busStub{
		stopChan: make(chan struct{}, 1),
	}
	newBus = func(string) (CANBus, error) {
		return bus, nil
	}
	defer func() {
		newBus = origNewBus
	}()

	c, err := Connect("fakeport")
	require.NoError(t, err)
	assert.IsType(t, &busStub{}, c.bus)

	assert.NoError(t, c.Close())
	assert.True(t, bus.disconnected)
}

func TestStart(t *testing.T) {
	bus := &busStub{
		stopChan:    make(chan struct{}),
		startedChan: make(chan struct{}),
	}
	c := &Connection{
		bus: bus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.NoError(t, c.Start(ctx, Callbacks{}))
		wg.Done()
	}()
	<-bus.startedChan
	assert.True(t, bus.subscribed)
	cancel()
	wg.Wait()
	assert.True(t, bus.disconnected)
}

func TestSendFrames(t *testing.T) {
	bus := &busStub{
		publishChan: make(chan *can.Frame, 1),
	}
	c := &Connection{
		bus: bus,
	}

	assert.NoError(t, c.SendSpeed(280))
	f := <-bus.publishChan
	assert.Equal(t, frameSpeed, f.ID)
	assert.Equal(t, uint16(280), binary.LittleEndian.Uint16(f.Data[0:2]))

	assert.NoError(t, c.SendPedals(0, 42))
	f = <-bus.publishChan
	assert.Equal(t, uint32(framePedals), f.ID)
	assert.Equal(t, uint8(0), f.Data[0])
	assert.Equal(t, uint8(42), f.Data[1])

	assert.NoError(t, c.SendLinkState(20, 7))
	f = <-bus.publishChan
	assert.Equal(t, uint32(frameLinkState), f.ID)
	assert.Equal(t, uint16(20), binary.LittleEndian.Uint16(f.Data[0:2]))
	assert.Equal(t, uint16(7), binary.LittleEndian.Uint16(f.Data[2:4]))
}

func TestSendWithoutBus(t *testing.T) {
	c := &Connection{}
	assert.Error(t, c.SendSpeed(1))
	assert.Error(t, c.SendPedals(1, 0))
	assert.Error(t, c.SendLinkState(1, 0))
	assert.Error(t, c.Close())
}

func TestHandleFrame(t *testing.T) {
	dimmer := -1
	c := &Connection{
		cb: Callbacks{
			Dimmer: func(v int) {
				dimmer = v
			},
		},
		bus: &busStub{},
	}

	buf := [8]byte{}
	binary.LittleEndian.PutUint16(buf[0:2], 70)
	c.handleFrame(can.Frame{
		ID:     frameDimmer,
		Length: 2,
		Data:   buf,
	})
	assert.Equal(t, 70, dimmer)

	// unknown frame
	c.handleFrame(can.Frame{ID: 400})
	assert.Equal(t, 70, dimmer)

	// too short
	c.handleFrame(can.Frame{ID: frameDimmer})
	assert.Equal(t, 70, dimmer)
}

func TestUint16Result(t *testing.T) {
	_, err := uint16Result(can.Frame{})
	assert.Error(t, err)

	buf := [8]byte{}
	binary.LittleEndian.PutUint16(buf[0:2], 300)
	n, err := uint16Result(can.Frame{
		Length: 2,
		Data:   buf,
	})
	assert.NoError(t, err)
	assert.Equal(t, 300, n)
}
