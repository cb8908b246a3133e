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
)

func main() {
	fs := pflag.NewFlagSet("rc_operator", pflag.ExitOnError)
	utils.OperatorFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := utils.LoadOperatorConfig(fs)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: config: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, closer := utils.NewLogger(cfg.Log, "rc_operator")
	defer closer.Close()

	metrics, err := utils.NewMetrics()
	if err != nil {
		utils.Critical(log).Err(err).Msg("Startup failed")
		utils.Exit(1, closer)
	}

	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		utils.Critical(log).Err(err).Str("scenario", cfg.ScenarioPath).Msg("Startup failed")
		utils.Exit(1, closer)
	}

	client, err := transport.NewClient(transport.ClientConfig{
		SendAddress:   cfg.Client.SendAddress,
		SocketTimeout: cfg.Client.SocketTimeout,
		QueueTimeout:  cfg.Client.QueueTimeout,
	}, log, metrics)
	if err != nil {
		utils.Critical(log).Err(err).Msg("Startup failed")
		utils.Exit(1, closer)
	}

	runner, err := NewRunner(scen, client.Sender(), cfg.RateHz, log)
	if err != nil {
		utils.Critical(log).Err(err).Msg("Startup failed")
		utils.Exit(1, closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	// the client outlives a signal so the runner's final fail-safe is still
	// flushed; it stops when the runner closes it
	g.Go(func() error { return client.Run(context.WithoutCancel(ctx)) })
	g.Go(func() error {
		defer client.Close()
		return runner.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		utils.Critical(log).Err(err).Msg("Run failed")
		utils.Exit(1, closer)
	}
}
