// Command space boots a RISC-V machine from firmware, kernel and disk images.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "space",
		Usage: "RISC-V system emulator",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Boot the machine and attach the terminal to its console",
				Flags:  append(machineFlags(), RunPProfCPUFlag),
				Action: Run,
			},
			{
				Name:   "dtb",
				Usage:  "Write the generated device tree",
				Flags:  append(machineFlags(), DTBOutFlag, DTBDumpFlag),
				Action: DTB,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "space: %v\n", err)
		os.Exit(1)
	}
}
