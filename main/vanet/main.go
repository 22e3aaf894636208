package main

import (
	"context"
	"flag"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jd3nn1s/vanet"
	"github.com/jd3nn1s/vanet/fleet"
	"github.com/jd3nn1s/vanet/follower"
	"github.com/jd3nn1s/vanet/lead"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var role = flag.String("role", "", "vehicle role: lead or follower")
var fleetFile = flag.String("fleet", "fleet.yaml", "fleet topology, lead only")
var name = flag.String("name", "", "name of this follower")
var ahead = flag.String("ahead", "", "address of the vehicle ahead, empty when it is the lead")
var aheadName = flag.String("ahead-name", vanet.DefaultLeadName, "name of the vehicle ahead")
var behind = flag.String("behind", "", "address of the vehicle behind, empty for the last vehicle")
var behindName = flag.String("behind-name", "", "name of the vehicle behind")
var receptionRange = flag.Float64("range", 0, "distance to the vehicle ahead, overrides transmission_range")
var configFile = flag.String("config", "", "engine configuration (TOML)")
var address = flag.String("address", "", "externally visible address, discovered when empty")
var logFile = flag.String("logfile", "", "also write logs to this file")
var debug = flag.Bool("debug", false, "log at debug level")
var testMode = flag.Bool("testmode", false, "run a whole fleet in-process on a simulated network")
var dashboard = flag.String("dashboard", "", "CAN interface to mirror follower state to")

func main() {
	flag.Parse()
	setupLogging(*debug, *logFile)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *testMode {
		if err := runTestMode(ctx, cfg, testModeNames); err != nil {
			log.Fatal("test mode failed: ", err)
		}
		return
	}

	switch *role {
	case "lead":
		err = runLead(ctx, cfg)
	case "follower":
		err = runFollower(ctx, cfg)
	default:
		log.Fatalf("unknown role %q, expected lead or follower", *role)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func setupLogging(debug bool, fileName string) {
	log.SetLevel(log.InfoLevel)
	if debug {
		log.SetLevel(log.DebugLevel)
	}
	if fileName != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   fileName,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		}))
	}
}

func loadConfig(fileName string) (*vanet.Config, error) {
	if fileName == "" {
		return vanet.DefaultConfig(), nil
	}
	return vanet.LoadConfig(fileName)
}

func newSensor() vanet.Sensor {
	return vanet.NewSimulatedSensor(rand.New(rand.NewSource(time.Now().UnixNano())))
}

func selfAddress(ctx context.Context) (string, error) {
	if *address != "" {
		return *address, nil
	}
	return discoverAddress(ctx, checkIPURL)
}

func runLead(ctx context.Context, cfg *vanet.Config) error {
	f, err := fleet.LoadFile(*fleetFile)
	if err != nil {
		return err
	}
	addr, err := selfAddress(ctx)
	if err != nil {
		return err
	}
	conn, err := vanet.ListenUDP(cfg.Port)
	if err != nil {
		return err
	}

	l := lead.New(conn, cfg, f, vanet.Vehicle{Name: cfg.LeadName, Address: addr}, newSensor())
	summary, err := l.Run(ctx)
	log.WithField("rounds", summary.Rounds).
		WithField("acks", summary.AcksReceived).
		WithField("completed", summary.Completed).
		Info("lead finished")
	return err
}

func runFollower(ctx context.Context, cfg *vanet.Config) error {
	if *name == "" {
		return errors.New("a follower needs -name")
	}
	if err := vanet.CheckName(*name); err != nil {
		return err
	}
	if *receptionRange > 0 {
		cfg.TransmissionRange = *receptionRange
	}
	addr, err := selfAddress(ctx)
	if err != nil {
		return err
	}
	conn, err := vanet.ListenUDP(cfg.Port)
	if err != nil {
		return err
	}

	peers := follower.Peers{
		Ahead:  vanet.Vehicle{Name: *aheadName, Address: *ahead},
		Behind: vanet.Vehicle{Name: *behindName, Address: *behind},
	}
	var opts []follower.Option
	if *dashboard != "" {
		fwd := vanet.NewCANForwarder(*dashboard)
		go func() {
			if err := fwd.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithField("err", err).Error("dashboard stopped")
			}
		}()
		opts = append(opts, follower.WithMetrics(fwd))
	}

	f := follower.New(conn, cfg, vanet.Vehicle{Name: *name, Address: addr}, peers, newSensor(), opts...)
	summary, err := f.Run(ctx)
	log.WithFields(log.Fields{
		"accepted":   summary.Accepted,
		"lateral":    summary.Lateral,
		"forwarded":  summary.Forwarded,
		"suppressed": summary.Suppressed,
		"dropped":    summary.Dropped,
		"acks":       summary.AcksRelayed,
	}).Info("follower finished")
	return err
}
