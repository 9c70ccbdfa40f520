// Copyright 2025 The Linmo Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds pmpsim's configuration: the simulated memory map and
// kernel image layout, read from a TOML file, plus logging flags.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"linmo.dev/linmo/pkg/log"
	"linmo.dev/linmo/pkg/pmp"
)

// Config holds configuration that is not part of the simulated image.
type Config struct {
	// ConfigFile is the TOML file the rest was read from, if any.
	ConfigFile string `toml:"-"`

	// LogFilename is the file logs are written to. Empty means stderr.
	// %COMMAND% and %TIMESTAMP% are expanded.
	LogFilename string `toml:"-"`

	// LogFormat is text or json.
	LogFormat string `toml:"-"`

	// Debug enables debug logging.
	Debug bool `toml:"-"`

	// Machine describes the simulated hart.
	Machine Machine `toml:"machine"`

	// Image is the kernel image layout.
	Image Image `toml:"image"`

	// User describes where user tasks are placed.
	User User `toml:"user"`
}

// Machine describes the simulated hart.
type Machine struct {
	RAMBase uint32 `toml:"ram_base"`
	RAMSize uint32 `toml:"ram_size"`

	// Verify checks hardware against the protection shadow on every trap
	// return.
	Verify bool `toml:"verify"`

	// MaxFlexpages bounds flexpage allocation. Zero is unbounded.
	MaxFlexpages int `toml:"max_flexpages"`
}

// Image is the section layout of the kernel image.
type Image struct {
	TextStart   uint32 `toml:"text_start"`
	TextEnd     uint32 `toml:"text_end"`
	DataStart   uint32 `toml:"data_start"`
	DataEnd     uint32 `toml:"data_end"`
	BSSStart    uint32 `toml:"bss_start"`
	BSSEnd      uint32 `toml:"bss_end"`
	HeapStart   uint32 `toml:"heap_start"`
	HeapEnd     uint32 `toml:"heap_end"`
	StackBottom uint32 `toml:"stack_bottom"`
	StackTop    uint32 `toml:"stack_top"`
}

// User describes user task placement. Task i (from 0) owns
// [Base+i*Size, Base+(i+1)*Size) and saves its frame in the kernel heap at
// SaveArea+i*frame size.
type User struct {
	Base     uint32 `toml:"base"`
	Size     uint32 `toml:"size"`
	SaveArea uint32 `toml:"save_area"`
}

// Default returns the configuration of a 1MiB board with the kernel image
// at the bottom of RAM.
func Default() *Config {
	return &Config{
		LogFormat: "text",
		Machine: Machine{
			RAMBase: 0x80000000,
			RAMSize: 0x100000,
			Verify:  true,
		},
		Image: Image{
			TextStart:   0x80000000,
			TextEnd:     0x80010000,
			DataStart:   0x80010000,
			DataEnd:     0x80020000,
			BSSStart:    0x80020000,
			BSSEnd:      0x80030000,
			HeapStart:   0x80030000,
			HeapEnd:     0x80080000,
			StackBottom: 0x80080000,
			StackTop:    0x80090000,
		},
		User: User{
			Base:     0x800a0000,
			Size:     0x10000,
			SaveArea: 0x80070000,
		},
	}
}

// LoadFile returns the default configuration overridden by the TOML file at
// path. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("reading %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	c.ConfigFile = path
	return c, nil
}

// Layout returns the image layout as the region manager wants it.
func (c *Config) Layout() pmp.Layout {
	i := c.Image
	return pmp.Layout{
		TextStart:   i.TextStart,
		TextEnd:     i.TextEnd,
		DataStart:   i.DataStart,
		DataEnd:     i.DataEnd,
		BSSStart:    i.BSSStart,
		BSSEnd:      i.BSSEnd,
		HeapStart:   i.HeapStart,
		HeapEnd:     i.HeapEnd,
		StackBottom: i.StackBottom,
		StackTop:    i.StackTop,
	}
}

// KernelStackTop is the top of the kernel stack user traps save onto.
func (c *Config) KernelStackTop() uint32 {
	return c.Image.StackTop
}

func (c *Config) ramEnd() uint64 {
	return uint64(c.Machine.RAMBase) + uint64(c.Machine.RAMSize)
}

func (c *Config) inRAM(addr uint32) bool {
	return addr >= c.Machine.RAMBase && uint64(addr) <= c.ramEnd()
}

// Validate checks that the configuration describes a usable machine.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.Machine.RAMSize == 0 || c.ramEnd() > 1<<32 {
		return fmt.Errorf("invalid RAM range %#x+%#x", c.Machine.RAMBase, c.Machine.RAMSize)
	}
	if c.Machine.MaxFlexpages < 0 {
		return fmt.Errorf("max_flexpages must not be negative, got %d", c.Machine.MaxFlexpages)
	}
	i := c.Image
	bounds := []struct {
		name       string
		start, end uint32
	}{
		{"text", i.TextStart, i.TextEnd},
		{"data", i.DataStart, i.DataEnd},
		{"bss", i.BSSStart, i.BSSEnd},
		{"heap", i.HeapStart, i.HeapEnd},
		{"stack", i.StackBottom, i.StackTop},
	}
	var prev uint32
	for _, b := range bounds {
		if b.start >= b.end {
			return fmt.Errorf("image section %s: start %#x not below end %#x", b.name, b.start, b.end)
		}
		if b.start%4 != 0 || b.end%4 != 0 {
			return fmt.Errorf("image section %s: [%#x, %#x) not word aligned", b.name, b.start, b.end)
		}
		if b.start < prev {
			return fmt.Errorf("image section %s at %#x overlaps the previous section", b.name, b.start)
		}
		if !c.inRAM(b.start) || !c.inRAM(b.end) {
			return fmt.Errorf("image section %s: [%#x, %#x) outside RAM", b.name, b.start, b.end)
		}
		prev = b.end
	}
	u := c.User
	if u.Size == 0 || u.Size%8 != 0 {
		return fmt.Errorf("user task size %#x must be a nonzero multiple of 8", u.Size)
	}
	if u.Base < i.StackTop {
		return fmt.Errorf("user base %#x overlaps the kernel image", u.Base)
	}
	if !c.inRAM(u.Base) || uint64(u.Base)+uint64(u.Size) > c.ramEnd() {
		return fmt.Errorf("user region %#x+%#x outside RAM", u.Base, u.Size)
	}
	if u.SaveArea < i.HeapStart || u.SaveArea >= i.HeapEnd || u.SaveArea%4 != 0 {
		return fmt.Errorf("user save area %#x must be a word in the kernel heap", u.SaveArea)
	}
	return nil
}

// UserTasks returns how many user tasks fit in RAM.
func (c *Config) UserTasks() int {
	return int((c.ramEnd() - uint64(c.User.Base)) / uint64(c.User.Size))
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Config file: %q", c.ConfigFile)
	log.Infof("RAM: [%#x, %#x), verify: %t, max flexpages: %d", c.Machine.RAMBase, c.ramEnd(), c.Machine.Verify, c.Machine.MaxFlexpages)
	i := c.Image
	log.Infof("Image: text [%#x, %#x) data [%#x, %#x) bss [%#x, %#x)", i.TextStart, i.TextEnd, i.DataStart, i.DataEnd, i.BSSStart, i.BSSEnd)
	log.Infof("Image: heap [%#x, %#x) stack [%#x, %#x)", i.HeapStart, i.HeapEnd, i.StackBottom, i.StackTop)
	log.Infof("User: base %#x, size %#x, save area %#x", c.User.Base, c.User.Size, c.User.SaveArea)
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file describing the simulated machine. Defaults are used when empty.")
	flagSet.String("log", "", "file path where logs are written, default is stderr. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
}

// NewFromFlags creates a new Config with values coming from the config file
// named by the flags, then from the flags themselves.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	c := Default()
	if path := lookup(flagSet, "config"); path != "" {
		var err error
		if c, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	c.LogFilename = lookup(flagSet, "log")
	c.LogFormat = lookup(flagSet, "log-format")
	c.Debug = lookup(flagSet, "debug") == "true"
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func lookup(flagSet *flag.FlagSet, name string) string {
	f := flagSet.Lookup(name)
	if f == nil {
		panic(fmt.Sprintf("flag %q not registered", name))
	}
	return f.Value.String()
}
