package config_test

import (
	"context"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	c, err := config.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestParse(t *testing.T) {
	c, err := config.Parse(strings.NewReader(`
socket: wayland-test
safety_margin: 5ms
debug: true
cursor:
  theme: Adwaita
  size: 32
outputs:
  - name: LEFT
    width: 1920
    height: 1080
    refresh: 144000
    scale: 1.5
    transform: "90"
    swapchain: 3
  - name: RIGHT
    x: 1080
    width: 800
    height: 600
    disabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, "wayland-test", c.Socket)
	assert.Equal(t, 5*time.Millisecond, c.SafetyMargin)
	assert.True(t, c.Debug)
	assert.Equal(t, config.Cursor{Theme: "Adwaita", Size: 32}, c.Cursor)
	require.Len(t, c.Outputs, 2)
	assert.Equal(t, 3, c.Outputs[0].Swapchain)

	left, err := c.Outputs[0].Device()
	require.NoError(t, err)
	assert.Equal(t, compositor.Device{
		Name:      "LEFT",
		Mode:      compositor.Mode{Width: 1920, Height: 1080, Refresh: 144000},
		Scale:     1.5,
		Transform: geom.Transform90,
		Enabled:   true,
	}, left)

	right, err := c.Outputs[1].Device()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(1080, 0), right.Position)
	assert.Equal(t, 1.0, right.Scale)
	assert.False(t, right.Enabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WLCOMP_SAFETY_MARGIN", "7ms")
	t.Setenv("WLCOMP_CURSOR_THEME", "breeze")
	t.Setenv("WLCOMP_SOCKET", "wayland-env")

	c, err := config.Parse(strings.NewReader("safety_margin: 1ms\n"))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Millisecond, c.SafetyMargin)
	assert.Equal(t, "breeze", c.Cursor.Theme)
	assert.Equal(t, "wayland-env", c.Socket)

	t.Setenv("WLCOMP_SAFETY_MARGIN", "soon")
	_, err = config.Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "UnknownField", src: "colour: red\n"},
		{name: "NegativeMargin", src: "safety_margin: -1ms\n"},
		{name: "NoName", src: "outputs:\n  - width: 10\n    height: 10\n"},
		{name: "Duplicate", src: "outputs:\n  - {name: A, width: 10, height: 10}\n  - {name: A, width: 10, height: 10}\n"},
		{name: "BadSize", src: "outputs:\n  - {name: A, width: 0, height: 10}\n"},
		{name: "BadTransform", src: "outputs:\n  - {name: A, width: 10, height: 10, transform: sideways}\n"},
		{name: "Syntax", src: "outputs: [\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := config.Parse(strings.NewReader(test.src))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug: false\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan config.Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- config.Watch(ctx, path, slog.New(slog.DiscardHandler), func(c config.Config) {
			changes <- c
		})
	}()

	// The watcher may not be registered yet, so keep rewriting the file
	// until a change comes through.
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	timeout := time.After(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(path, []byte("debug: true\n"), 0o644))
		select {
		case c := <-changes:
			if !c.Debug {
				// Caught the file half written.
				continue
			}
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
		case <-timeout:
			t.Fatal("no config change reported")
		}
	}
}
