package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jd3nn1s/vanet"
	"github.com/jd3nn1s/vanet/fleet"
	"github.com/jd3nn1s/vanet/follower"
	"github.com/jd3nn1s/vanet/lead"
	"github.com/jd3nn1s/vanet/netsim"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var testModeNames = []string{"X", "Y", "Z", "EC"}

// each vehicle is this much further from the lead than the one ahead, so
// only the first follower hears the lead directly
const testModeRangeStep = 30

const testModeLeadAddress = "10.0.0.1"

// to allow testing
var attach = func(network *netsim.Network, address string) (*netsim.Conn, error) {
	return network.Listen(address)
}

type testModeResult struct {
	lead      lead.Summary
	followers []follower.Summary
}

// runTestMode drives a lead and one follower engine per name over an
// in-memory network.
func runTestMode(ctx context.Context, cfg *vanet.Config, names []string) error {
	_, err := runFleet(ctx, cfg, names)
	return err
}

func runFleet(ctx context.Context, cfg *vanet.Config, names []string) (*testModeResult, error) {
	addresses := make([]string, len(names))
	for i := range names {
		addresses[i] = fmt.Sprintf("10.0.0.%d", i+2)
	}
	f, err := fleet.Build(names, addresses, cfg.Port)
	if err != nil {
		return nil, err
	}

	network := netsim.NewNetwork()
	followerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &testModeResult{followers: make([]follower.Summary, f.Len())}
	errs := make([]error, f.Len())
	var wg sync.WaitGroup
	// every started follower is joined before returning
	stop := func() {
		cancel()
		wg.Wait()
	}
	for i, v := range f.Followers() {
		conn, err := attach(network, fmt.Sprintf("%s:%d", v.Address, cfg.Port))
		if err != nil {
			stop()
			return nil, errors.Wrapf(err, "unable to attach %s", v)
		}
		vehicleCfg := *cfg
		vehicleCfg.TransmissionRange = cfg.TransmissionRange + float64(i*testModeRangeStep)

		peers := follower.Peers{Ahead: vanet.Vehicle{Name: cfg.LeadName}}
		if v.Ahead != fleet.NoNeighbor {
			peers.Ahead = f.At(v.Ahead).Vehicle()
		}
		if v.Behind != fleet.NoNeighbor {
			peers.Behind = f.At(v.Behind).Vehicle()
		}
		engine := follower.New(conn, &vehicleCfg, v.Vehicle(), peers, newSensor())

		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			summary, err := engine.Run(followerCtx)
			result.followers[i] = summary
			if err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = errors.Wrapf(err, "follower %s", name)
			}
		}(i, v.Name)
	}

	conn, err := attach(network, fmt.Sprintf("%s:%d", testModeLeadAddress, cfg.Port))
	if err != nil {
		stop()
		return nil, errors.Wrap(err, "unable to attach lead")
	}
	l := lead.New(conn, cfg, f, vanet.Vehicle{Name: cfg.LeadName, Address: testModeLeadAddress}, newSensor())
	result.lead, err = l.Run(ctx)

	// followers still waiting on relayed acks never see another packet
	stop()
	if err != nil {
		return result, err
	}
	for _, err := range errs {
		if err != nil {
			return result, err
		}
	}

	for i, s := range result.followers {
		log.WithFields(log.Fields{
			"follower":  f.At(i).Name,
			"accepted":  s.Accepted,
			"forwarded": s.Forwarded,
			"dropped":   s.Dropped,
		}).Info("test mode follower summary")
	}
	log.WithField("rounds", result.lead.Rounds).
		WithField("completed", result.lead.Completed).
		Info("test mode finished")
	return result, nil
}
