package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/anchorageoss/selfprove-teeclient/server"
)

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	defaults := server.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve selector packing and disclosure verification over HTTP",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "Listen address",
				Value:   defaults.Addr,
				Sources: envVars("addr"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Usage:   "Allowed CORS origin (repeatable, enables CORS)",
				Sources: envVars("cors-origin"),
			},
			&cli.Int64Flag{
				Name:  "max-request-size",
				Usage: "Maximum request body size in bytes",
				Value: defaults.MaxRequestSize,
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Graceful shutdown timeout",
				Value: defaults.ShutdownTimeout,
			},
		}, verifierFlags()...),
		Action: runServeCommand,
	}
}

func runServeCommand(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	scfg := server.DefaultConfig()
	scfg.Addr = cmd.String("addr")
	scfg.MaxRequestSize = cmd.Int64("max-request-size")
	scfg.ShutdownTimeout = cmd.Duration("shutdown-timeout")
	if origins := cmd.StringSlice("cors-origin"); len(origins) > 0 {
		scfg.EnableCORS = true
		scfg.CorsOrigins = origins
	}
	if scfg.ShutdownTimeout <= 0 {
		scfg.ShutdownTimeout = 10 * time.Second
	}

	service, err := newVerifyService(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	var verifier server.Verifier
	if service != nil {
		verifier = service
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(scfg, verifier, logger).Run(ctx)
}
