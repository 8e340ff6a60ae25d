// Package config loads the compositor's configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/geom"
	"gopkg.in/yaml.v3"
)

// MaxOutputs is the number of outputs that a Context can drive at once.
const MaxOutputs = 32

type Config struct {
	// Socket is the name of the listening socket. Relative names are
	// relative to $XDG_RUNTIME_DIR. If it is empty, the first free
	// wayland-N name is used.
	Socket string `yaml:"socket"`

	// SafetyMargin is added to the predicted frame cost when scheduling
	// repaints.
	SafetyMargin time.Duration `yaml:"safety_margin"`

	// Debug draws outlines around surfaces and damage.
	Debug bool `yaml:"debug"`

	Cursor  Cursor   `yaml:"cursor"`
	Outputs []Output `yaml:"outputs"`
}

type Cursor struct {
	Theme string `yaml:"theme"`
	Size  int    `yaml:"size"`
}

// Output configures one headless output.
type Output struct {
	Name      string  `yaml:"name"`
	X         int     `yaml:"x"`
	Y         int     `yaml:"y"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Refresh   int     `yaml:"refresh"`
	Scale     float64 `yaml:"scale"`
	Transform string  `yaml:"transform"`
	Disabled  bool    `yaml:"disabled"`
	Swapchain int     `yaml:"swapchain"`
}

// Default returns the configuration used when there is no config file.
func Default() Config {
	return Config{
		SafetyMargin: compositor.DefaultSafetyMargin,
		Cursor: Cursor{
			Size: 24,
		},
		Outputs: []Output{
			{
				Name:    "HEADLESS-1",
				Width:   1280,
				Height:  720,
				Refresh: compositor.DefaultRefresh,
				Scale:   1,
			},
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/wlcomp/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "wlcomp", "config.yaml")
}

// Load reads the config file at path. A missing file yields the
// default configuration. Environment overrides are applied either way.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
		data = nil
	}

	c, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

// Parse decodes a config from r, on top of the defaults.
func Parse(r io.Reader) (Config, error) {
	c := Default()
	c.Outputs = nil

	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	err := d.Decode(&c)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	if c.Outputs == nil {
		c.Outputs = Default().Outputs
	}

	err = c.applyEnv()
	if err != nil {
		return Config{}, err
	}

	err = c.Validate()
	if err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("WLCOMP_SOCKET"); ok {
		c.Socket = v
	}
	if v, ok := os.LookupEnv("WLCOMP_CURSOR_THEME"); ok {
		c.Cursor.Theme = v
	}
	if v, ok := os.LookupEnv("WLCOMP_SAFETY_MARGIN"); ok {
		margin, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("WLCOMP_SAFETY_MARGIN: %w", err)
		}
		c.SafetyMargin = margin
	}
	return nil
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.SafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("negative safety margin %v", c.SafetyMargin))
	}
	if c.Cursor.Size < 0 {
		errs = append(errs, fmt.Errorf("negative cursor size %v", c.Cursor.Size))
	}
	if len(c.Outputs) > MaxOutputs {
		errs = append(errs, fmt.Errorf("%v outputs configured, at most %v are supported", len(c.Outputs), MaxOutputs))
	}

	names := make(map[string]struct{}, len(c.Outputs))
	for i, out := range c.Outputs {
		if out.Name == "" {
			errs = append(errs, fmt.Errorf("output %v has no name", i))
			continue
		}
		if _, ok := names[out.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate output %q", out.Name))
		}
		names[out.Name] = struct{}{}

		_, err := out.Device()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Device converts the output's settings into a compositor device.
func (out Output) Device() (compositor.Device, error) {
	if out.Width <= 0 || out.Height <= 0 {
		return compositor.Device{}, fmt.Errorf("output %q: invalid size %vx%v", out.Name, out.Width, out.Height)
	}
	if out.Refresh < 0 {
		return compositor.Device{}, fmt.Errorf("output %q: negative refresh rate %v", out.Name, out.Refresh)
	}
	if out.Scale < 0 {
		return compositor.Device{}, fmt.Errorf("output %q: negative scale %v", out.Name, out.Scale)
	}

	var t geom.Transform
	if out.Transform != "" {
		var err error
		t, err = geom.ParseTransform(out.Transform)
		if err != nil {
			return compositor.Device{}, fmt.Errorf("output %q: %w", out.Name, err)
		}
	}

	scale := out.Scale
	if scale == 0 {
		scale = 1
	}
	return compositor.Device{
		Name:      out.Name,
		Position:  image.Pt(out.X, out.Y),
		Mode:      compositor.Mode{Width: out.Width, Height: out.Height, Refresh: out.Refresh},
		Scale:     scale,
		Transform: t,
		Enabled:   !out.Disabled,
	}, nil
}
