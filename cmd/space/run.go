package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Blameying/space-emu/internal/console"
	"github.com/Blameying/space-emu/internal/machine"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"
)

func Run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	if ctx.Bool(RunPProfCPUFlag.Name) && cfg.Profile == "" {
		cfg.Profile = "."
	}
	if cfg.Profile != "" {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath(cfg.Profile), profile.CPUProfile).Stop()
	}

	host, err := console.Open(os.Stdin, os.Stdout, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	m, err := machine.New(cfg, machine.WithLogger(logger), machine.WithTerminal(host))
	if err != nil {
		return err
	}
	defer m.Close()

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = m.Run(runCtx)
	switch {
	case errors.Is(err, machine.ErrPowerOff):
		logger.Info("guest powered off")
		return nil
	case errors.Is(err, console.ErrQuit), errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
