package fleet

import (
	"fmt"
	"net"

	"github.com/jd3nn1s/vanet"
	"github.com/pkg/errors"
)

// NoNeighbor marks the missing end of the chain.
const NoNeighbor = -1

// Follower is one vehicle behind the lead. Ahead and Behind index into the
// owning Fleet.
type Follower struct {
	Name    string
	Address string
	Port    int
	Order   int
	Ahead   int
	Behind  int

	Delivered   int
	Attempted   int
	Unreachable bool
}

func (f *Follower) String() string {
	return fmt.Sprintf("Fleet Vehicle %s", f.Name)
}

func (f *Follower) Vehicle() vanet.Vehicle {
	return vanet.Vehicle{Name: f.Name, Address: f.Address}
}

func (f *Follower) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(f.Address), Port: f.Port}
}

// Fleet is the ordered chain of followers, order 0 directly behind the lead.
type Fleet struct {
	followers []Follower
}

func Build(names, addresses []string, port int) (*Fleet, error) {
	if len(addresses) == 0 {
		return nil, errors.New("fleet needs at least one follower")
	}
	if len(names) != len(addresses) {
		return nil, errors.Errorf("%d names given for %d addresses", len(names), len(addresses))
	}
	seen := make(map[string]bool, len(addresses))
	followers := make([]Follower, len(addresses))
	for i, addr := range addresses {
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() == nil {
			return nil, errors.Errorf("follower %d: %q is not an IPv4 address", i, addr)
		}
		if seen[addr] {
			return nil, errors.Errorf("follower %d: duplicate address %s", i, addr)
		}
		seen[addr] = true
		if err := vanet.CheckName(names[i]); err != nil {
			return nil, errors.Wrapf(err, "follower %d", i)
		}
		followers[i] = Follower{
			Name:    names[i],
			Address: addr,
			Port:    port,
			Order:   i,
			Ahead:   i - 1,
			Behind:  i + 1,
		}
	}
	followers[len(followers)-1].Behind = NoNeighbor
	return &Fleet{followers: followers}, nil
}

func (f *Fleet) Len() int {
	return len(f.followers)
}

func (f *Fleet) At(i int) *Follower {
	return &f.followers[i]
}

// Followers returns the chain in order. The pointers stay valid for the
// lifetime of the fleet.
func (f *Fleet) Followers() []*Follower {
	ret := make([]*Follower, len(f.followers))
	for i := range f.followers {
		ret[i] = &f.followers[i]
	}
	return ret
}

// FindByAddress maps a peer address back to its follower. An address that
// was not declared at setup is a wiring fault and reported as fatal.
func (f *Fleet) FindByAddress(addr string) (*Follower, error) {
	for i := range f.followers {
		if f.followers[i].Address == addr {
			return &f.followers[i], nil
		}
	}
	return nil, vanet.Fatalf(vanet.ErrUnknownPeer,
		"no follower with address %s, is the IP address set correctly in the topology?", addr)
}

// Forwarder finds the closest reachable follower ahead of i to tunnel
// through.
func (f *Fleet) Forwarder(i int) (int, error) {
	if f.followers[i].Order == 0 {
		return 0, vanet.Fatalf(vanet.ErrPersistentDeliveryFailure,
			"the leading fleet vehicle %s should never need tunneling", f.followers[i].Name)
	}
	for p := f.followers[i].Ahead; p != NoNeighbor; p = f.followers[p].Ahead {
		if !f.followers[p].Unreachable {
			return p, nil
		}
	}
	return 0, vanet.Fatalf(vanet.ErrPersistentDeliveryFailure,
		"no reachable vehicle ahead of %s to tunnel through", f.followers[i].Name)
}

// NextHop is the follower whose socket a frame for i is physically sent to.
func (f *Fleet) NextHop(i int) (int, error) {
	if !f.followers[i].Unreachable {
		return i, nil
	}
	return f.Forwarder(i)
}

// Complete reports whether every follower delivered quota packets.
func (f *Fleet) Complete(quota int) bool {
	for i := range f.followers {
		if f.followers[i].Delivered < quota {
			return false
		}
	}
	return true
}
