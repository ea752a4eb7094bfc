// Package cmd holds wheelbridge's Kong subcommands: Serve runs the bridge
// itself, Config scaffolds a configuration file, following the teacher's
// own split between cmd/<binary> (thin entrypoint) and internal/cmd (the
// actual command implementations Kong dispatches into).
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wheelbridge/internal/audio"
	"wheelbridge/internal/clock"
	"wheelbridge/internal/config"
	"wheelbridge/internal/feedback"
	"wheelbridge/internal/log"
	"wheelbridge/internal/protocol"
	"wheelbridge/internal/session"
	"wheelbridge/internal/sidecar"
	"wheelbridge/internal/telemetry"
	"wheelbridge/internal/udpnet"
	"wheelbridge/internal/util"
)

const (
	exitBadConfig     = 2
	exitUDPBindFailed = 3
	exitNoSidecar     = 4
)

// Serve is the default Kong command: it runs the SessionLoop until
// SIGINT/SIGTERM.
type Serve struct {
	config.Config
}

// Run is called by Kong when the serve command is executed (or when no
// subcommand is given, since it's the default).
func (s *Serve) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	if util.IsRunFromGUI() {
		util.HideConsoleWindow()
	}

	target, err := sidecar.ParseTarget(s.Bridge.Target)
	if err != nil {
		logger.Error("bad configuration", "error", err)
		os.Exit(exitBadConfig)
	}

	counters := &telemetry.Counters{}
	clk := clock.Real{}

	endpoint, err := udpnet.Bind(s.UdpPort, s.PeerGrace(), logger, rawLogger, counters)
	if err != nil {
		logger.Error("failed to bind UDP endpoint", "error", err)
		if udpnet.IsBindFailure(err) {
			os.Exit(exitUDPBindFailed)
		}
		os.Exit(exitBadConfig)
	}
	defer endpoint.Close()

	codec := protocol.New(counters)
	supervisor := sidecar.New(s.Bridge.Exe, target, s.Keepalive(), logger, counters, clk)
	ingestor := audio.New(s.Audio.Helper, logger, rawLogger, counters)

	mixerTuning := feedback.DefaultTuning()
	mixerTuning.Mode = feedback.ParseMode(s.FFB.Mode)
	mixerTuning.StaleTime = s.FFBStale()
	mixerTuning.GainL = s.FFB.GainL
	mixerTuning.GainR = s.FFB.GainR
	mixer := feedback.New(mixerTuning)

	loop := session.New(s.Config, clk, logger, counters, endpoint, codec, supervisor, ingestor, mixer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The sidecar's own backoff ceiling is fatal to the whole process
	// (spec.md §6/§7, exit code 4): stop the session loop the same way a
	// signal would, then report the real reason once everything has torn
	// down cleanly.
	go func() {
		select {
		case <-ctx.Done():
		case <-supervisor.Fatal():
			stop()
		}
	}()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				loop.Reconfigure(config.PatchFromEnv())
				logger.Info("reconfigured steering/FFB tuning from environment")
			}
		}
	}()

	supervisor.Start(ctx)
	if err := ingestor.Start(ctx); err != nil {
		logger.Warn("audio helper failed to start", "error", err)
	}

	logger.Info("wheelbridge listening", "addr", endpoint.LocalAddr().String(), "bridge_target", target)
	loop.Run(ctx)

	supervisor.Stop()
	ingestor.Stop()

	select {
	case <-supervisor.Fatal():
		logger.Error("sidecar unavailable after backoff ceiling, exiting")
		os.Exit(exitNoSidecar)
	default:
	}
	return nil
}
