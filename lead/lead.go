package lead

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/jd3nn1s/vanet"
	"github.com/jd3nn1s/vanet/codec"
	"github.com/jd3nn1s/vanet/fleet"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const recvBufferSize = 512

type State int

const (
	Idle State = iota
	Broadcasting
	AwaitingAcks
	AllAcked
	TimedOut
	AdvanceSensors
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Broadcasting:
		return "broadcasting"
	case AwaitingAcks:
		return "awaiting-acks"
	case AllAcked:
		return "all-acked"
	case TimedOut:
		return "timed-out"
	case AdvanceSensors:
		return "advance-sensors"
	case Done:
		return "done"
	}
	return "unknown"
}

// to allow testing
var sleep = time.Sleep

type Summary struct {
	Rounds       int
	AcksReceived int
	// every follower reached its quota
	Completed bool
}

// Lead drives the broadcast rounds. It owns conn and closes it when Run
// returns.
type Lead struct {
	conn   net.PacketConn
	cfg    *vanet.Config
	fleet  *fleet.Fleet
	self   vanet.Vehicle
	sensor vanet.Sensor

	state State
	round int
	acks  int
	// set after the first missed ack from the order 0 follower
	tailWarning bool

	buf []byte
}

func New(conn net.PacketConn, cfg *vanet.Config, f *fleet.Fleet, self vanet.Vehicle, sensor vanet.Sensor) *Lead {
	return &Lead{
		conn:   conn,
		cfg:    cfg,
		fleet:  f,
		self:   self,
		sensor: sensor,
		buf:    make([]byte, recvBufferSize),
	}
}

func (l *Lead) State() State {
	return l.state
}

func (l *Lead) Run(ctx context.Context) (Summary, error) {
	defer func() {
		if err := l.conn.Close(); err != nil {
			log.WithField("err", err).Warn("unable to close lead socket")
		}
	}()

	log.WithField("vehicle", l.self.Name).
		WithField("address", l.self.Address).
		WithField("followers", l.fleet.Len()).
		Info("initiating VANET fleet")

	for {
		if err := ctx.Err(); err != nil {
			return l.summary(false), err
		}
		if l.fleet.Complete(l.cfg.Quota) {
			l.setState(Done)
			log.WithField("rounds", l.round).Info("all followers received their packets, destination reached")
			return l.summary(true), nil
		}
		if l.round >= l.cfg.MaxRounds {
			l.setState(Done)
			log.WithField("rounds", l.round).Warn("ride ended before every follower reached its quota")
			return l.summary(false), nil
		}
		if err := l.runRound(); err != nil {
			return l.summary(false), err
		}
	}
}

func (l *Lead) summary(completed bool) Summary {
	return Summary{
		Rounds:       l.round,
		AcksReceived: l.acks,
		Completed:    completed,
	}
}

func (l *Lead) setState(s State) {
	log.WithField("round", l.round+1).WithField("state", s).Debug("lead state change")
	l.state = s
}

func (l *Lead) runRound() error {
	l.setState(Broadcasting)
	start := time.Now()
	sent, err := l.broadcast()
	if err != nil {
		return err
	}

	l.setState(AwaitingAcks)
	firstAck, timedOut, err := l.awaitAcks(sent)
	if err != nil {
		return err
	}
	if timedOut {
		l.setState(TimedOut)
		if err := l.handleFailures(); err != nil {
			return err
		}
	} else {
		l.setState(AllAcked)
	}

	// the sensor moves on even when delivery failed so a ride always ends
	l.setState(AdvanceSensors)
	l.sensor.Update(l.cfg.RoundDelay(), 0, 0)
	l.round++
	l.pace(start, firstAck)
	return nil
}

func (l *Lead) broadcast() (int, error) {
	sent := 0
	reading := l.sensor.Reading()
	for _, f := range l.fleet.Followers() {
		if f.Delivered >= l.cfg.Quota {
			continue
		}
		f.Attempted = f.Delivered + 1

		hop, err := l.fleet.NextHop(f.Order)
		if err != nil {
			return sent, err
		}
		nextHop := l.fleet.At(hop)
		frame := codec.NewFrame(f.Attempted, l.self, f.Vehicle(), reading, l.cfg.TransmissionRange)

		// give the receiver time to drain its previous packet
		sleep(l.cfg.SendPacing())

		entry := log.WithField("seq", f.Attempted).WithField("follower", f.Name)
		if hop != f.Order {
			entry = entry.WithField("forwarder", nextHop.Name)
		}
		entry.Info("broadcasting")

		if _, err := l.conn.WriteTo(codec.Encode(frame), nextHop.UDPAddr()); err != nil {
			return sent, errors.Wrapf(err, "unable to send to %s", nextHop)
		}
		sent++
	}
	return sent, nil
}

// awaitAcks collects acknowledgements until sent of them arrived or the ack
// timeout passes.
func (l *Lead) awaitAcks(sent int) (firstAck time.Time, timedOut bool, err error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.AckTimeout())); err != nil {
		return firstAck, false, errors.Wrap(err, "unable to set ack deadline")
	}
	received := 0
	for received < sent {
		n, from, err := l.conn.ReadFrom(l.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				log.WithField("received", received).
					WithField("sent", sent).
					Warn("timed out waiting for acknowledgements")
				return firstAck, true, nil
			}
			return firstAck, false, errors.Wrap(err, "unable to receive acknowledgement")
		}
		ok, err := l.handleAck(l.buf[:n], from)
		if err != nil {
			return firstAck, false, err
		}
		if !ok {
			continue
		}
		received++
		if firstAck.IsZero() {
			firstAck = time.Now()
		}
	}
	return firstAck, false, nil
}

func (l *Lead) handleAck(b []byte, from net.Addr) (bool, error) {
	ack, err := codec.DecodeAck(b)
	if err != nil {
		log.WithField("peer", from).WithField("err", err).Warn("dropping malformed acknowledgement")
		return false, nil
	}
	client, err := l.fleet.FindByAddress(ack.OriginAddr)
	if err != nil {
		return false, err
	}
	forwarder, err := l.fleet.FindByAddress(vanet.HostOf(from))
	if err != nil {
		return false, err
	}

	entry := log.WithField("seq", ack.Sequence).WithField("follower", ack.VehicleName)
	if forwarder != client {
		entry = entry.WithField("forwardedBy", forwarder.Name)
	}
	if ack.Sequence != client.Attempted || client.Delivered >= client.Attempted {
		entry.WithField("attempted", client.Attempted).Debug("ignoring stale acknowledgement")
		return false, nil
	}

	if client.Order == 0 {
		l.tailWarning = false
	}
	client.Delivered++
	l.acks++
	entry.Info("ACK received")
	return true, nil
}

func (l *Lead) handleFailures() error {
	for _, f := range l.fleet.Followers() {
		if f.Delivered == f.Attempted {
			continue
		}
		entry := log.WithField("seq", f.Attempted).WithField("follower", f.Name)
		if f.Order == 0 {
			if l.tailWarning {
				return vanet.Fatalf(vanet.ErrPersistentDeliveryFailure,
					"several failures detected for %s directly behind lead, is there a transmission issue?", f)
			}
			l.tailWarning = true
			entry.Warn("lead fleet vehicle failed to acknowledge, retrying once more in case it was busy")
			continue
		}
		if !f.Unreachable {
			// a dead end surfaces from the next broadcast
			if hop, err := l.fleet.Forwarder(f.Order); err == nil {
				entry = entry.WithField("via", l.fleet.At(hop).Name)
			}
			entry.Warn("never acknowledged, tunneling next time")
		}
		f.Unreachable = true
	}
	return nil
}

// pace sleeps out the rest of the round delay, measured from the start of
// the broadcast to the first acknowledgement.
func (l *Lead) pace(start, firstAck time.Time) {
	if firstAck.IsZero() {
		return
	}
	elapsed := firstAck.Sub(start)
	delay := l.cfg.RoundDelay()
	if elapsed < delay {
		log.WithField("elapsed", elapsed).
			WithField("wait", delay-elapsed).
			Debug("initial ACK received, waiting before next broadcast")
		sleep(delay - elapsed)
		return
	}
	log.WithField("elapsed", elapsed).Warn("acknowledgement arrived after the round delay, sending next packet immediately")
}
