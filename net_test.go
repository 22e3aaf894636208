package vanet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type otherAddr string

func (a otherAddr) Network() string { return "other" }
func (a otherAddr) String() string  { return string(a) }

func TestHostOf(t *testing.T) {
	assert.Equal(t, "10.0.0.2", HostOf(UDPAddr("10.0.0.2", DefaultPort)))
	assert.Equal(t, "10.0.0.3", HostOf(&net.TCPAddr{IP: net.ParseIP("10.0.0.3"), Port: 1}))
	assert.Equal(t, "garbage", HostOf(otherAddr("garbage")))
}

func TestUDPAddr(t *testing.T) {
	addr := UDPAddr("10.0.0.2", 9000)
	assert.Equal(t, "10.0.0.2:9000", addr.String())
}
