// Package netsim is an in-memory datagram network. Every endpoint is a
// net.PacketConn addressed by a *net.UDPAddr, so engines can run a whole
// fleet inside one process.
package netsim

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const inboxSize = 256

// DropFunc decides whether a datagram is lost in transit.
type DropFunc func(from, to *net.UDPAddr, b []byte) bool

type datagram struct {
	from *net.UDPAddr
	data []byte
}

type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Conn
	drop      DropFunc
}

func NewNetwork() *Network {
	return &Network{
		endpoints: make(map[string]*Conn),
	}
}

// SetDrop installs fn as the loss model. nil delivers everything.
func (n *Network) SetDrop(fn DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = fn
}

// Listen binds address, given as "ip:port".
func (n *Network) Listen(address string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resolve %s", address)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr.String()]; ok {
		return nil, errors.Errorf("address %s already in use", addr)
	}
	c := &Conn{
		network: n,
		addr:    addr,
		inbox:   make(chan datagram, inboxSize),
		closed:  make(chan struct{}),
	}
	n.endpoints[addr.String()] = c
	return c, nil
}

func (n *Network) deliver(from, to *net.UDPAddr, b []byte) {
	n.mu.Lock()
	dst := n.endpoints[to.String()]
	drop := n.drop
	n.mu.Unlock()

	if dst == nil {
		log.WithField("to", to).Debug("netsim: no endpoint, datagram lost")
		return
	}
	if drop != nil && drop(from, to, b) {
		log.WithField("from", from).WithField("to", to).Debug("netsim: datagram dropped")
		return
	}
	data := make([]byte, len(b))
	copy(data, b)
	select {
	case dst.inbox <- datagram{from: from, data: data}:
	default:
		log.WithField("to", to).Warn("netsim: inbox full, datagram lost")
	}
}

func (n *Network) remove(c *Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[c.addr.String()] == c {
		delete(n.endpoints, c.addr.String())
	}
}

// Conn is one bound endpoint on a Network.
type Conn struct {
	network *Network
	addr    *net.UDPAddr

	inbox     chan datagram
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	deadline time.Time
}

func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, c.opError("read", os.ErrDeadlineExceeded)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-c.closed:
		return 0, nil, c.opError("read", net.ErrClosed)
	default:
	}

	select {
	case dg := <-c.inbox:
		return copy(p, dg.data), dg.from, nil
	case <-timeout:
		return 0, nil, c.opError("read", os.ErrDeadlineExceeded)
	case <-c.closed:
		return 0, nil, c.opError("read", net.ErrClosed)
	}
}

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, c.opError("write", net.ErrClosed)
	default:
	}
	to, ok := addr.(*net.UDPAddr)
	if !ok {
		var err error
		if to, err = net.ResolveUDPAddr("udp4", addr.String()); err != nil {
			return 0, c.opError("write", err)
		}
	}
	c.network.deliver(c.addr, to, p)
	return len(p), nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.network.remove(c)
	})
	return nil
}

func (c *Conn) LocalAddr() net.Addr {
	return c.addr
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	return nil
}

// SetWriteDeadline is a no-op: writes never block.
func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *Conn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "udp", Addr: c.addr, Err: err}
}
