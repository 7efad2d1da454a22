package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Blameying/space-emu/internal/config"
	"github.com/urfave/cli/v2"
)

var (
	ConfigFlag = &cli.PathFlag{
		Name:  "config",
		Usage: "YAML machine description; other flags override it",
	}
	BIOSFlag = &cli.PathFlag{
		Name:  "bios",
		Usage: "Firmware image loaded at the start of RAM",
	}
	KernelFlag = &cli.PathFlag{
		Name:  "kernel",
		Usage: "Kernel image loaded behind the firmware",
	}
	DriveFlag = &cli.PathFlag{
		Name:  "drive",
		Usage: "Disk image for the virtio block device",
	}
	DriveModeFlag = &cli.StringFlag{
		Name:  "drive-mode",
		Usage: "Disk mode: rw, ro or snapshot",
	}
	CmdlineFlag = &cli.StringFlag{
		Name:  "cmdline",
		Usage: "Kernel command line",
	}
	MemoryFlag = &cli.Uint64Flag{
		Name:  "memory",
		Usage: "RAM size in MiB",
	}
	XLENFlag = &cli.IntFlag{
		Name:  "xlen",
		Usage: "Register width, 32 or 64",
	}
	ExtensionsFlag = &cli.StringFlag{
		Name:  "extensions",
		Usage: "ISA extension letters, e.g. imafdcsu",
	}
	DebugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
	TraceFlag = &cli.BoolFlag{
		Name:  "trace",
		Usage: "Log every trap taken by the hart",
	}
	ProgressFlag = &cli.BoolFlag{
		Name:  "progress",
		Usage: "Show progress while loading images",
	}
	RunPProfCPUFlag = &cli.BoolFlag{
		Name:  "pprof-cpu",
		Usage: "Write a CPU profile for the run",
	}
	DTBOutFlag = &cli.PathFlag{
		Name:  "out",
		Usage: "Destination of the device tree blob",
		Value: "space.dtb",
	}
	DTBDumpFlag = &cli.BoolFlag{
		Name:  "dump",
		Usage: "Print the tree as text instead of writing a blob",
	}
)

func machineFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag, BIOSFlag, KernelFlag, DriveFlag, DriveModeFlag, CmdlineFlag,
		MemoryFlag, XLENFlag, ExtensionsFlag, DebugFlag, TraceFlag, ProgressFlag,
	}
}

// loadConfig reads --config when given and applies the flags set on the
// command line.
func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.Path(ConfigFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if ctx.IsSet(BIOSFlag.Name) {
		cfg.BIOS = ctx.Path(BIOSFlag.Name)
	}
	if ctx.IsSet(KernelFlag.Name) {
		cfg.Kernel = ctx.Path(KernelFlag.Name)
	}
	if ctx.IsSet(DriveFlag.Name) {
		cfg.Drive.Path = ctx.Path(DriveFlag.Name)
	}
	if ctx.IsSet(DriveModeFlag.Name) {
		cfg.Drive.Mode = ctx.String(DriveModeFlag.Name)
	} else if cfg.Drive.Path != "" && cfg.Drive.Mode == "" {
		cfg.Drive.Mode = "snapshot"
	}
	if ctx.IsSet(CmdlineFlag.Name) {
		cfg.Cmdline = ctx.String(CmdlineFlag.Name)
	}
	if ctx.IsSet(MemoryFlag.Name) {
		cfg.MemoryMB = ctx.Uint64(MemoryFlag.Name)
	}
	if ctx.IsSet(XLENFlag.Name) {
		cfg.XLEN = ctx.Int(XLENFlag.Name)
	}
	if ctx.IsSet(ExtensionsFlag.Name) {
		cfg.Extensions = ctx.String(ExtensionsFlag.Name)
	}
	if ctx.Bool(DebugFlag.Name) {
		cfg.LogLevel = "debug"
	}
	if ctx.Bool(TraceFlag.Name) {
		cfg.Trace = true
	}
	if ctx.Bool(ProgressFlag.Name) {
		cfg.Progress = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
