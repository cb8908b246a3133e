package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"rc-vehicle-core/transport"
	"rc-vehicle-core/utils"
	"rc-vehicle-core/vehicle"
)

func main() {
	fs := pflag.NewFlagSet("rc_vehicle", pflag.ExitOnError)
	utils.VehicleFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := utils.LoadVehicleConfig(fs)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, closer := utils.NewLogger(cfg.Log, "rc_vehicle")
	defer closer.Close()

	metrics, err := utils.NewMetrics()
	if err != nil {
		utils.Critical(log).Err(err).Msg("Startup failed")
		utils.Exit(1, closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver, hwCloser, err := buildDriver(ctx, cfg, log, metrics)
	if err != nil {
		utils.Critical(log).Err(err).Str("driver", cfg.Driver.Type).Msg("Startup failed")
		utils.Exit(1, closer)
	}
	defer hwCloser.Close()

	tx, rx := transport.NewQueue()
	server, err := transport.NewServer(transport.ServerConfig{
		BindAddress:   cfg.Server.BindAddress,
		SocketTimeout: cfg.Server.SocketTimeout,
	}, tx, log, metrics)
	if err != nil {
		utils.Critical(log).Err(err).Msg("Startup failed")
		utils.Exit(1, hwCloser, closer)
	}

	v := vehicle.New(rx, driver, vehicle.Limits{
		ThrottleMin:    float32(cfg.Limits.ThrottleMin),
		ThrottleMax:    float32(cfg.Limits.ThrottleMax),
		SteeringOffset: float32(cfg.Limits.SteeringOffset),
		EnvelopeStep:   float32(cfg.Limits.EnvelopeStep),
		TrimStep:       float32(cfg.Limits.TrimStep),
		Watchdog:       cfg.Limits.Watchdog,
	}, log, metrics)

	// either side stopping takes the other down: the server releasing the
	// queue disconnects the vehicle, and the vehicle closes the server
	var g errgroup.Group
	g.Go(func() error {
		defer v.Close()
		return server.Run(ctx)
	})
	g.Go(func() error {
		defer server.Close()
		return v.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		utils.Critical(log).Err(err).Msg("Run failed")
		utils.Exit(1, hwCloser, closer)
	}
}
