package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindTelemetry Kind = 1
	KindAck       Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindAck:
		return "ack"
	}
	return "unknown"
}

const ackTag = "ACK"

// Ack confirms delivery of Sequence to OriginAddr. DestinationAddr is the
// vehicle that originated the acknowledged frame.
type Ack struct {
	Sequence        int
	OriginAddr      string
	DestinationAddr string
	VehicleName     string
}

func EncodeAck(seq int, originAddr, destAddr, name string) []byte {
	return []byte(fmt.Sprintf("%s %d %s %s %s", ackTag, seq, originAddr, destAddr, name))
}

func DecodeAck(b []byte) (*Ack, error) {
	tokens := strings.Fields(string(b))
	if len(tokens) != 5 {
		return nil, malformed("ack has %d tokens, want 5", len(tokens))
	}
	if tokens[0] != ackTag {
		return nil, malformed("ack starts with %q", tokens[0])
	}
	seq, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, malformed("bad ack sequence %q", tokens[1])
	}
	return &Ack{
		Sequence:        seq,
		OriginAddr:      tokens[2],
		DestinationAddr: tokens[3],
		VehicleName:     tokens[4],
	}, nil
}

// Classify decides how a datagram should be decoded. Anything shorter than
// threshold bytes is taken to be an ack; longer datagrams carrying the ACK
// tag are acks as well, so long addresses or names do not turn an ack into
// a broken telemetry frame.
func Classify(b []byte, threshold int) Kind {
	if len(b) < threshold || bytes.HasPrefix(b, []byte(ackTag+" ")) {
		return KindAck
	}
	return KindTelemetry
}
