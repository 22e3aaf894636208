package follower

import (
	"context"
	"net"
	"time"

	"github.com/jd3nn1s/vanet"
	"github.com/jd3nn1s/vanet/codec"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const recvBufferSize = 1024

// Peers are the vehicles directly around a follower. An empty Ahead address
// means the vehicle ahead is the lead, whose address is learnt from the
// first packet. An empty Behind address means this is the last vehicle.
type Peers struct {
	Ahead  vanet.Vehicle
	Behind vanet.Vehicle
}

type Summary struct {
	Accepted    int
	Lateral     int
	Forwarded   int
	Suppressed  int
	Dropped     int
	AcksRelayed int
}

type Option func(*Follower)

// WithMetrics mirrors the vehicle state to m after every lead frame.
func WithMetrics(m vanet.MetricSender) Option {
	return func(f *Follower) {
		f.metrics = m
	}
}

// Follower receives lead telemetry, acknowledges it, relays traffic for
// other vehicles and sends its own telemetry to the vehicle behind.
type Follower struct {
	conn    net.PacketConn
	cfg     *vanet.Config
	self    vanet.Vehicle
	peers   Peers
	sensor  vanet.Sensor
	metrics vanet.MetricSender
	decoder codec.Decoder

	upstream *net.UDPAddr
	flood    *FloodCache

	// last sequence received from the lead
	lastSeq int
	// last sequence of an ack relayed upstream
	lastSeqForwarded int
	// sequence of this vehicle's next outbound frame
	lastSeqSent int
	lastRecv    time.Time

	summary Summary
	buf     []byte
}

func New(conn net.PacketConn, cfg *vanet.Config, self vanet.Vehicle, peers Peers, sensor vanet.Sensor, opts ...Option) *Follower {
	f := &Follower{
		conn:        conn,
		cfg:         cfg,
		self:        self,
		peers:       peers,
		sensor:      sensor,
		decoder:     codec.Decoder{VerifyChecksum: cfg.VerifyChecksum},
		flood:       NewFloodCache(),
		lastSeqSent: 1,
		buf:         make([]byte, recvBufferSize),
	}
	if peers.Ahead.Address != "" {
		f.upstream = vanet.UDPAddr(peers.Ahead.Address, cfg.Port)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Follower) Summary() Summary {
	return f.summary
}

// Run processes datagrams until the relay duty is over, a fatal error
// occurs or ctx is done. The socket is closed on return.
func (f *Follower) Run(ctx context.Context) (Summary, error) {
	stop := make(chan struct{})
	defer close(stop)
	defer func() {
		if err := f.conn.Close(); err != nil {
			log.WithField("err", err).Debug("unable to close follower socket")
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = f.conn.Close()
		case <-stop:
		}
	}()

	entry := log.WithField("vehicle", f.self.Name).WithField("address", f.self.Address)
	if f.peers.Ahead.Name != "" {
		entry = entry.WithField("ahead", f.peers.Ahead.Name)
	}
	if f.last() {
		entry.Info("joining VANET fleet as last vehicle")
	} else {
		entry.WithField("behind", f.peers.Behind.Name).Info("joining VANET fleet")
	}

	for {
		n, from, err := f.conn.ReadFrom(f.buf)
		if err != nil {
			if ctx.Err() != nil {
				return f.summary, ctx.Err()
			}
			return f.summary, errors.Wrap(err, "unable to receive datagram")
		}
		done, err := f.Handle(f.buf[:n], from)
		if err != nil {
			return f.summary, err
		}
		if done {
			log.WithField("vehicle", f.self.Name).
				WithField("lastSeq", f.lastSeq).
				Info("VANET transmission ended")
			return f.summary, nil
		}
	}
}

func (f *Follower) last() bool {
	return f.peers.Behind.Address == ""
}

// Handle processes one datagram received from the socket address from.
// done reports that the follower may stop relaying.
func (f *Follower) Handle(b []byte, from net.Addr) (done bool, err error) {
	if f.upstream == nil {
		f.upstream = vanet.UDPAddr(vanet.HostOf(from), portOf(from, f.cfg.Port))
		log.WithField("upstream", f.upstream).Info("discovered vehicle ahead")
	}

	if codec.Classify(b, f.cfg.AckThreshold) == codec.KindAck {
		return f.handleAck(b, from)
	}
	if err := f.handleTelemetry(b, from); err != nil {
		return false, err
	}
	if f.summary.Accepted >= f.cfg.MaxFollowerPackets {
		return true, nil
	}
	return f.checkDone(), nil
}

func (f *Follower) handleAck(b []byte, from net.Addr) (bool, error) {
	ack, err := codec.DecodeAck(b)
	if err != nil {
		log.WithField("peer", from).WithField("err", err).Warn("dropping malformed acknowledgement")
		return false, nil
	}

	entry := log.WithField("seq", ack.Sequence).WithField("from", ack.VehicleName)
	if ack.DestinationAddr == f.self.Address {
		entry.Info("received ACK")
		f.lastSeqSent++
		return false, nil
	}

	entry.WithField("to", f.upstream).Info("forwarding ACK")
	if _, err := f.conn.WriteTo(b, f.upstream); err != nil {
		return false, errors.Wrapf(err, "unable to forward ack to %s", f.upstream)
	}
	f.lastSeqForwarded = ack.Sequence
	f.summary.AcksRelayed++
	return f.flood.Done(), nil
}

func (f *Follower) handleTelemetry(b []byte, from net.Addr) error {
	frame, err := f.decoder.Decode(b)
	if err != nil {
		return vanet.Fatalf(vanet.ErrMalformedFrame, "datagram from %s is not a telemetry frame: %v", from, err)
	}

	sender := vanet.HostOf(from)
	entry := log.WithField("seq", frame.Sequence).WithField("source", frame.SourceName)
	if sender == frame.SourceAddr {
		// straight from the source, so the signal has to reach us
		if frame.Range < f.cfg.TransmissionRange && !f.isUpstream(sender) {
			entry.WithField("reason", vanet.ErrRangeExceeded).Debug("silently dropping packet")
			f.summary.Dropped++
			return nil
		}
		entry.Info("packet received")
	} else {
		entry.WithField("forwardedBy", sender).Info("packet received")
	}

	if frame.DestAddr == f.self.Address {
		return f.accept(frame, from)
	}
	return f.relay(frame, b)
}

func (f *Follower) isUpstream(host string) bool {
	return f.upstream != nil && f.upstream.IP.String() == host
}

func (f *Follower) accept(frame *codec.Frame, from net.Addr) error {
	now := time.Now()
	elapsed := f.cfg.RoundDelay()
	if !f.lastRecv.IsZero() {
		elapsed = now.Sub(f.lastRecv)
	}
	f.lastRecv = now

	ack := codec.EncodeAck(frame.Sequence, f.self.Address, frame.SourceAddr, f.self.Name)
	if _, err := f.conn.WriteTo(ack, from); err != nil {
		return errors.Wrapf(err, "unable to acknowledge to %s", from)
	}
	log.WithField("seq", frame.Sequence).WithField("to", vanet.HostOf(from)).Debug("sent ACK")

	if frame.SourceName != f.cfg.LeadName {
		f.summary.Lateral++
		return nil
	}
	f.lastSeq = frame.Sequence
	f.summary.Accepted++

	f.sensor.Update(elapsed, frame.Velocity, frame.Acceleration)
	reading := f.sensor.Reading()
	log.WithFields(log.Fields{
		"elapsed":      elapsed,
		"velocity":     reading.Velocity,
		"acceleration": reading.Acceleration,
		"brake":        reading.Brake,
		"throttle":     reading.Throttle,
	}).Debug("updated navigation from last transmission")
	f.sendMetrics(reading)

	if f.last() {
		return nil
	}
	out := codec.NewFrame(f.lastSeqSent, f.self, f.peers.Behind, reading, f.cfg.TransmissionRange)
	log.WithField("seq", out.Sequence).WithField("to", f.peers.Behind.Name).Info("broadcasting")
	if _, err := f.conn.WriteTo(codec.Encode(out), vanet.UDPAddr(f.peers.Behind.Address, f.cfg.Port)); err != nil {
		return errors.Wrapf(err, "unable to send to %s", f.peers.Behind.Name)
	}
	return nil
}

func (f *Follower) sendMetrics(r vanet.Reading) {
	if f.metrics == nil {
		return
	}
	if err := f.metrics.SendReading(r); err != nil {
		log.WithField("err", err).Warn("unable to send reading to dashboard")
	}
	if err := f.metrics.SendLinkState(f.lastSeq, f.summary.Forwarded+f.summary.AcksRelayed); err != nil {
		log.WithField("err", err).Warn("unable to send link state to dashboard")
	}
}

// relay floods a frame addressed to another vehicle, once per sequence and
// destination.
func (f *Follower) relay(frame *codec.Frame, b []byte) error {
	entry := log.WithField("seq", frame.Sequence).WithField("to", frame.DestName)
	if f.flood.Seen(frame.Sequence, frame.DestAddr) {
		entry.Info("flooding protocol: packet already sent, not rebroadcasting")
		f.summary.Suppressed++
		return nil
	}
	entry.Info("forwarding packet")
	if _, err := f.conn.WriteTo(b, vanet.UDPAddr(frame.DestAddr, f.cfg.Port)); err != nil {
		return errors.Wrapf(err, "unable to forward to %s", frame.DestAddr)
	}
	f.flood.Record(frame.Sequence, frame.DestAddr)
	f.summary.Forwarded++
	return nil
}

// checkDone decides whether the relay duty is over: the lead reached its
// quota, every destination flooded for the first sequence was flooded for
// the last one too, and acks were relayed through the last sequence.
func (f *Follower) checkDone() bool {
	quota := f.cfg.Quota
	if f.lastSeq < quota {
		return false
	}
	if f.flood.Len() == 0 {
		return true
	}
	last := f.flood.Size(quota)
	if last > 0 && last == f.flood.Size(1) && f.lastSeqForwarded >= quota {
		f.flood.MarkDone()
		return true
	}
	return false
}

func portOf(addr net.Addr, fallback int) int {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.Port
	}
	return fallback
}
