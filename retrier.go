package vanet

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// to allow testing
var retrySleep = time.Second
var retryMaxSleep = 30 * time.Second

type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// retry keeps r running until ctx is done. A Start error closes and reopens
// r; failed opens back off exponentially up to retryMaxSleep.
func retry(ctx context.Context, r Retryable) error {
	delay := retrySleep
	opened := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !opened {
			if err := r.Open(); err != nil {
				log.WithField("err", err).WithField("retryIn", delay).Errorf("%s: unable to connect", r.Name())
				if err := sleepCtx(ctx, delay); err != nil {
					return err
				}
				delay = nextDelay(delay)
				continue
			}
			opened = true
			delay = retrySleep
		}

		err := r.Start(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
		if err := r.Close(); err != nil {
			log.WithField("err", err).Warnf("%s: unable to close", r.Name())
		}
		opened = false
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > retryMaxSleep {
		return retryMaxSleep
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
