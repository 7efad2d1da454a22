// Package config holds the machine description loaded from YAML and
// overridden from the command line.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Blameying/space-emu/internal/devices/virtio"
	"github.com/Blameying/space-emu/internal/riscv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultXLEN       = 64
	DefaultMemoryMB   = 128
	DefaultCmdline    = "root=/dev/vda rw"
	DefaultExtensions = "imafdcsu"
	DefaultLogLevel   = "info"

	// MaxMemoryMB keeps RAM below the top of the RV32 address space.
	MaxMemoryMB = 2048
)

// Config describes one machine.
type Config struct {
	XLEN       int    `yaml:"xlen"`
	MemoryMB   uint64 `yaml:"memory_mb"`
	BIOS       string `yaml:"bios"`
	Kernel     string `yaml:"kernel,omitempty"`
	Drive      Drive  `yaml:"drive,omitempty"`
	Cmdline    string `yaml:"cmdline"`
	Extensions string `yaml:"extensions"`
	LogLevel   string `yaml:"log_level"`
	Trace      bool   `yaml:"trace,omitempty"`
	Profile    string `yaml:"profile,omitempty"`
	Progress   bool   `yaml:"progress,omitempty"`
}

// Drive is the optional disk image behind the virtio block device.
type Drive struct {
	Path string `yaml:"path,omitempty"`
	Mode string `yaml:"mode,omitempty"`
}

// Default returns a configuration with every default applied and no images.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.XLEN == 0 {
		c.XLEN = DefaultXLEN
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = DefaultMemoryMB
	}
	if c.Cmdline == "" {
		c.Cmdline = DefaultCmdline
	}
	if c.Extensions == "" {
		c.Extensions = DefaultExtensions
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Drive.Path != "" && c.Drive.Mode == "" {
		c.Drive.Mode = virtio.ModeSnapshot.String()
	}
}

// Load reads a YAML configuration file and fills in defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	c.normalize()
	return c, nil
}

// Write encodes c to path.
func Write(path string, c Config) error {
	c.normalize()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Validate reports the first inconsistency in c. It does not touch the
// filesystem.
func (c Config) Validate() error {
	if c.XLEN != 32 && c.XLEN != 64 {
		return fmt.Errorf("xlen must be 32 or 64, got %d", c.XLEN)
	}
	if c.MemoryMB == 0 || c.MemoryMB > MaxMemoryMB {
		return fmt.Errorf("memory_mb must be in 1..%d, got %d", MaxMemoryMB, c.MemoryMB)
	}
	if c.BIOS == "" {
		return fmt.Errorf("bios image is required")
	}
	if _, err := c.Misa(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Drive.Path != "" {
		if _, err := virtio.ParseMode(c.Drive.Mode); err != nil {
			return err
		}
	}
	return nil
}

// MemoryBytes returns the main RAM size.
func (c Config) MemoryBytes() uint64 { return c.MemoryMB << 20 }

// DriveMode returns the parsed drive mode.
func (c Config) DriveMode() (virtio.Mode, error) { return virtio.ParseMode(c.Drive.Mode) }

const supportedExtensions = riscv.MisaI | riscv.MisaM | riscv.MisaA | riscv.MisaF |
	riscv.MisaD | riscv.MisaC | riscv.MisaS | riscv.MisaU

// Misa converts the extension letters into misa bits. "g" stands for imafd.
func (c Config) Misa() (uint64, error) {
	var misa uint64
	for _, ch := range strings.ToLower(c.Extensions) {
		if ch == 'g' {
			misa |= riscv.MisaI | riscv.MisaM | riscv.MisaA | riscv.MisaF | riscv.MisaD
			continue
		}
		if ch < 'a' || ch > 'z' {
			return 0, fmt.Errorf("bad extension letter %q", ch)
		}
		bit := uint64(1) << (ch - 'a')
		if bit&supportedExtensions == 0 {
			return 0, fmt.Errorf("extension %q is not supported", ch)
		}
		misa |= bit
	}
	if misa&riscv.MisaD != 0 && misa&riscv.MisaF == 0 {
		return 0, fmt.Errorf("extension d requires f")
	}
	return misa | riscv.MisaI, nil
}

// Level maps log_level onto a slog level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
