package main

import (
	"fmt"
	"os"

	"github.com/Blameying/space-emu/internal/fdt"
	"github.com/Blameying/space-emu/internal/machine"
	"github.com/urfave/cli/v2"
)

// DTB builds the machine without running it and emits its device tree.
func DTB(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	m, err := machine.New(cfg, machine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer m.Close()
	blob := m.DeviceTree()

	if ctx.Bool(DTBDumpFlag.Name) {
		root, err := fdt.Parse(blob)
		if err != nil {
			return err
		}
		return root.Dump(os.Stdout)
	}

	out := ctx.Path(DTBOutFlag.Name)
	if err := os.WriteFile(out, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("device tree written", "path", out, "size", len(blob))
	return nil
}
