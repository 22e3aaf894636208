package netsim

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendReceive(t *testing.T) {
	n := NewNetwork()
	a, err := n.Listen("10.0.0.1:9885")
	require.NoError(t, err)
	b, err := n.Listen("10.0.0.2:9885")
	require.NoError(t, err)

	msg := []byte("hello")
	_, err = a.WriteTo(msg, b.LocalAddr())
	require.NoError(t, err)
	// the network owns a copy
	msg[0] = 'j'

	buf := make([]byte, 16)
	nr, from, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:nr]))
	assert.Equal(t, "10.0.0.1:9885", from.String())
}

func TestListenTwice(t *testing.T) {
	n := NewNetwork()
	c, err := n.Listen("10.0.0.1:9885")
	require.NoError(t, err)
	_, err = n.Listen("10.0.0.1:9885")
	assert.Error(t, err)

	// closing frees the address
	require.NoError(t, c.Close())
	_, err = n.Listen("10.0.0.1:9885")
	assert.NoError(t, err)
}

func TestDeadline(t *testing.T) {
	n := NewNetwork()
	c, err := n.Listen("10.0.0.1:9885")
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	start := time.Now()
	_, _, err = c.ReadFrom(make([]byte, 8))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
	assert.True(t, time.Since(start) >= 15*time.Millisecond)

	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())

	// past deadlines fail immediately
	_, _, err = c.ReadFrom(make([]byte, 8))
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))
}

func TestCloseUnblocksRead(t *testing.T) {
	n := NewNetwork()
	c, err := n.Listen("10.0.0.1:9885")
	require.NoError(t, err)

	errChan := make(chan error, 1)
	go func() {
		_, _, err := c.ReadFrom(make([]byte, 8))
		errChan <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	assert.True(t, errors.Is(<-errChan, net.ErrClosed))

	_, err = c.WriteTo([]byte("x"), &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1})
	assert.True(t, errors.Is(err, net.ErrClosed))
}

func TestDropAndUnknownEndpoint(t *testing.T) {
	n := NewNetwork()
	a, err := n.Listen("10.0.0.1:9885")
	require.NoError(t, err)
	b, err := n.Listen("10.0.0.2:9885")
	require.NoError(t, err)

	// writing to nobody is not an error, like UDP
	_, err = a.WriteTo([]byte("lost"), &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 9885})
	assert.NoError(t, err)

	n.SetDrop(func(from, to *net.UDPAddr, b []byte) bool {
		return string(b) == "drop me"
	})
	_, err = a.WriteTo([]byte("drop me"), b.LocalAddr())
	require.NoError(t, err)
	_, err = a.WriteTo([]byte("keep me"), b.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, 16)
	nr, _, err := b.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(buf[:nr]))
}
