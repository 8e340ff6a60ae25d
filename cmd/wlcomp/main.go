// wlcomp is a headless Wayland compositor. Clients can connect to it,
// attach shared-memory buffers to surfaces and have them composited
// into in-memory framebuffers at each output's refresh rate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"deedles.dev/wlcomp/backend/headless"
	"deedles.dev/wlcomp/compositor"
	"deedles.dev/wlcomp/internal/config"
	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/server"
	"deedles.dev/wlcomp/wire"
	"github.com/gogpu/gg"
	"golang.org/x/sync/errgroup"
)

type state struct {
	logger *slog.Logger
	cfg    config.Config

	backend *headless.Backend
	ctx     *compositor.Context
	reactor *compositor.Reactor
	server  *server.Server
	lis     *net.UnixListener

	cursor  *render.Cursor
	debug   *render.Debug
	outputs map[string]*compositor.Output

	cascade image.Point
}

func (s *state) init(cfg config.Config) error {
	s.cfg = cfg
	s.outputs = make(map[string]*compositor.Output)

	s.backend = headless.New()
	s.ctx = compositor.New(
		s.backend,
		compositor.WithLogger(s.logger),
		compositor.WithSafetyMargin(cfg.SafetyMargin),
		compositor.WithAllocator(&render.Allocator{}),
	)
	s.reactor = compositor.NewReactor(s.ctx)
	s.backend.Bind(s.reactor)

	s.ctx.AddPipeline(render.NewBasic())
	s.cursor = render.NewCursor(s.ctx, cfg.Cursor.Theme, cfg.Cursor.Size)
	s.ctx.AddPipeline(s.cursor)
	s.setDebug(cfg.Debug)

	err := s.applyOutputs(cfg.Outputs)
	if err != nil {
		return fmt.Errorf("configure outputs: %w", err)
	}
	if outs := s.ctx.Outputs(); len(outs) > 0 {
		box := outs[0].Box()
		s.cursor.SetPosition(box.Min.Add(box.Size().Div(2)))
	}

	s.server = server.New(s.reactor, server.WithLogger(s.logger))
	s.server.OnClient.Subscribe(func(c *server.Client) {
		s.logger.Info("client connected", "clients", len(s.server.Clients()))
		c.OnDestroy.Subscribe(func(*server.Client) {
			s.logger.Info("client disconnected")
		})
	})
	s.ctx.OnCommit.Subscribe(s.place)

	lis, err := wire.Listen(cfg.Socket)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.lis = lis
	s.logger.Info("listening", "socket", lis.Addr().String())

	return nil
}

func (s *state) run(ctx context.Context, configPath string) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.reactor.Run(ctx, s.handleError, s.server.Flush)
	})
	eg.Go(func() error {
		return s.server.Serve(ctx, s.lis)
	})
	eg.Go(func() error {
		return config.Watch(ctx, configPath, s.logger, func(cfg config.Config) {
			s.reactor.Post(compositor.FuncEvent(func() error {
				s.reload(cfg)
				return nil
			}))
		})
	})

	err := eg.Wait()
	s.server.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *state) handleError(err error) error {
	err = s.reactor.IgnoreResets(err)
	if err != nil {
		s.logger.Error("event failed", "err", err)
	}
	return nil
}

func (s *state) setDebug(enabled bool) {
	switch {
	case enabled && s.debug == nil:
		s.debug = render.NewDebug(s.ctx)
		s.ctx.AddPipeline(s.debug)
	case !enabled && s.debug != nil:
		s.ctx.RemovePipeline(s.debug)
		s.debug = nil
	}
}

func (s *state) reload(cfg config.Config) {
	if cfg.SafetyMargin != s.cfg.SafetyMargin {
		s.logger.Warn("safety margin changes take effect after a restart")
	}
	if cfg.Socket != s.cfg.Socket {
		s.logger.Warn("socket changes take effect after a restart")
	}
	s.setDebug(cfg.Debug)

	err := s.applyOutputs(cfg.Outputs)
	if err != nil {
		s.logger.Error("apply output config", "err", err)
	}
	s.cfg = cfg
	debug.Dump("config", cfg)
}

// applyOutputs creates, changes and removes outputs to match the
// configuration.
func (s *state) applyOutputs(outputs []config.Output) error {
	seen := make(map[string]struct{}, len(outputs))
	var errs []error
	for _, conf := range outputs {
		seen[conf.Name] = struct{}{}

		dev, err := conf.Device()
		if err != nil {
			errs = append(errs, err)
			continue
		}

		out, ok := s.outputs[conf.Name]
		if !ok {
			out, err = s.ctx.AddOutput(dev)
			if err != nil {
				errs = append(errs, fmt.Errorf("add output %v: %w", conf.Name, err))
				continue
			}
			s.outputs[conf.Name] = out
			s.logger.Info("output added", "output", out)
		}
		s.backend.SetSwapchain(out, conf.Swapchain)

		if out.Device() != dev || out.NeedsReset() {
			s.ctx.SetDevice(out, dev)
			s.logger.Info("output changed", "output", out)
		}
	}

	for name, out := range s.outputs {
		if _, ok := seen[name]; ok {
			continue
		}
		s.ctx.RemoveOutput(out)
		delete(s.outputs, name)
		s.logger.Info("output removed", "name", name)
	}

	return errors.Join(errs...)
}

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the config file")
	verbose := flag.Bool("v", false, "log debug messages")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gg.SetLogger(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	debug.Dump("config", cfg)

	s := state{logger: logger}
	err = s.init(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	err = s.run(ctx, *configPath)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
}
