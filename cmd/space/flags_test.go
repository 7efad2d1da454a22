package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Blameying/space-emu/internal/config"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func parse(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var cfg config.Config
	var loadErr error
	app := &cli.App{
		Name: "space",
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: machineFlags(),
			Action: func(ctx *cli.Context) error {
				cfg, loadErr = loadConfig(ctx)
				return nil
			},
		}},
	}
	require.NoError(t, app.Run(append([]string{"space", "run"}, args...)))
	return cfg, loadErr
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bios: fw.bin\nmemory_mb: 64\nxlen: 32\n"), 0o644))

	cfg, err := parse(t, "--config", path, "--memory", "256", "--drive", "root.img", "--debug")
	require.NoError(t, err)
	require.Equal(t, "fw.bin", cfg.BIOS)
	require.Equal(t, 32, cfg.XLEN)
	require.Equal(t, uint64(256), cfg.MemoryMB)
	require.Equal(t, "root.img", cfg.Drive.Path)
	require.Equal(t, "snapshot", cfg.Drive.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestFlagsWithoutConfigFile(t *testing.T) {
	cfg, err := parse(t, "--bios", "fw.bin", "--xlen", "32", "--extensions", "imac", "--cmdline", "console=hvc0")
	require.NoError(t, err)
	require.Equal(t, 32, cfg.XLEN)
	require.Equal(t, "imac", cfg.Extensions)
	require.Equal(t, "console=hvc0", cfg.Cmdline)
	require.Equal(t, uint64(config.DefaultMemoryMB), cfg.MemoryMB)
}

func TestFlagsRejectInvalid(t *testing.T) {
	_, err := parse(t, "--bios", "fw.bin", "--xlen", "16")
	require.Error(t, err)

	_, err = parse(t)
	require.Error(t, err)
}
