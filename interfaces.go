package vanet

import (
	"context"

	"github.com/jd3nn1s/vanet/dashcan"
)

type CANBus interface {
	Close() error
	Start(context.Context, dashcan.Callbacks) error
	SendSpeed(int) error
	SendPedals(brake, throttle int) error
	SendLinkState(lastSeq, relayed int) error
}

// MetricSender receives a follower's state after each accepted lead frame.
type MetricSender interface {
	SendReading(Reading) error
	SendLinkState(lastSeq, relayed int) error
}
