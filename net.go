package vanet

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// ListenUDP binds the vehicle's socket on every local interface. Vehicles
// are usually behind NAT, so the externally visible address cannot be bound
// directly.
func ListenUDP(port int) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to listen on udp port %d", port)
	}
	return conn, nil
}

// HostOf returns the IP part of a socket address.
func HostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func UDPAddr(host string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}
}
