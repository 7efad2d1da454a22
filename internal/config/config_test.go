package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Blameying/space-emu/internal/riscv"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, 64, c.XLEN)
	require.Equal(t, uint64(128), c.MemoryMB)
	require.Equal(t, uint64(128<<20), c.MemoryBytes())
	require.Equal(t, "root=/dev/vda rw", c.Cmdline)
	require.Equal(t, "imafdcsu", c.Extensions)

	misa, err := c.Misa()
	require.NoError(t, err)
	require.Equal(t, riscv.MisaI|riscv.MisaM|riscv.MisaA|riscv.MisaF|riscv.MisaD|
		riscv.MisaC|riscv.MisaS|riscv.MisaU, misa)

	// no firmware yet
	require.Error(t, c.Validate())
	c.BIOS = "bbl.bin"
	require.NoError(t, c.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "space.yaml")
	content := `xlen: 32
memory_mb: 256
bios: fw.bin
kernel: Image
drive:
  path: root.ext2
cmdline: console=hvc0
extensions: gcsu
log_level: debug
trace: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	require.Equal(t, 32, c.XLEN)
	require.Equal(t, uint64(256), c.MemoryMB)
	require.Equal(t, "Image", c.Kernel)
	require.Equal(t, "snapshot", c.Drive.Mode)
	require.True(t, c.Trace)

	lvl, err := c.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, lvl)

	misa, err := c.Misa()
	require.NoError(t, err)
	require.NotZero(t, misa&riscv.MisaD)
	require.NotZero(t, misa&riscv.MisaC)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xlen: [1, 2"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.BIOS = "fw.bin"

	for name, mutate := range map[string]func(*Config){
		"xlen":      func(c *Config) { c.XLEN = 128 },
		"memory":    func(c *Config) { c.MemoryMB = MaxMemoryMB + 1 },
		"extension": func(c *Config) { c.Extensions = "imv" },
		"d without f": func(c *Config) {
			c.Extensions = "imad"
		},
		"letter":    func(c *Config) { c.Extensions = "im4" },
		"log level": func(c *Config) { c.LogLevel = "loud" },
		"drive mode": func(c *Config) {
			c.Drive = Drive{Path: "x.img", Mode: "append"}
		},
	} {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.BIOS = "fw.bin"
	c.Drive = Drive{Path: "root.img", Mode: "ro"}
	require.NoError(t, Write(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, c, got)
}
