package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/nmxmxh/ringswap/internal/config"
	"github.com/nmxmxh/ringswap/internal/network"
	"github.com/nmxmxh/ringswap/internal/node"
	"github.com/nmxmxh/ringswap/internal/status"
	"github.com/nmxmxh/ringswap/internal/utils"
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML configuration file",
		EnvVars: []string{"RINGSWAP_CONFIG"},
	}
	listenFlag = &cli.StringSliceFlag{
		Name:  "listen",
		Usage: "libp2p listen multiaddr (repeatable)",
	}
	bootstrapFlag = &cli.StringSliceFlag{
		Name:  "bootstrap",
		Usage: "/p2p multiaddr of a peer to dial at startup (repeatable)",
	}
	identityFlag = &cli.StringFlag{
		Name:  "identity",
		Usage: "file holding the node's private key, created if missing",
	}
	locationFlag = &cli.Float64Flag{
		Name:  "location",
		Usage: "starting ring location in [0,1); random if unset",
	}
	statusAddrFlag = &cli.StringFlag{
		Name:  "status-addr",
		Usage: "HTTP address for /status, /metrics and /ws; empty disables",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "debug, info, warn or error",
	}
	noColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "disable colored log output",
	}
)

func main() {
	app := &cli.App{
		Name:  "ringswap-node",
		Usage: "run a node of the location swapping overlay",
		Flags: []cli.Flag{
			configFlag, listenFlag, bootstrapFlag, identityFlag, locationFlag,
			statusAddrFlag, logLevelFlag, noColorFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file if given and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet(listenFlag.Name) {
		cfg.Node.ListenAddrs = c.StringSlice(listenFlag.Name)
	}
	if c.IsSet(bootstrapFlag.Name) {
		cfg.Node.Bootstrap = c.StringSlice(bootstrapFlag.Name)
	}
	if c.IsSet(identityFlag.Name) {
		cfg.Node.IdentityFile = c.String(identityFlag.Name)
	}
	if c.IsSet(locationFlag.Name) {
		loc := c.Float64(locationFlag.Name)
		cfg.Node.Location = &loc
	}
	if c.IsSet(statusAddrFlag.Name) {
		cfg.Status.Addr = c.String(statusAddrFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.Log.Level = c.String(logLevelFlag.Name)
	}
	if c.Bool(noColorFlag.Name) {
		cfg.Log.Color = false
	}
	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	level, _ := utils.ParseLevel(cfg.Log.Level)
	logger := utils.NewLogger(utils.LoggerConfig{Level: level, Colorize: cfg.Log.Color, Output: os.Stderr})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := network.NewHost(cfg.Node.HostConfig)
	if err != nil {
		return fmt.Errorf("start libp2p host: %w", err)
	}

	shutdown := utils.NewGracefulShutdown(cfg.Node.ShutdownGrace, logger)
	shutdown.Register("host", h.Close)

	hub := status.NewHub(logger)
	n, err := node.New(h, cfg, hub, logger)
	if err != nil {
		_ = h.Close()
		return err
	}
	if err := n.Start(ctx); err != nil {
		_ = h.Close()
		return err
	}
	shutdown.Register("node", n.Stop)

	if cfg.Status.Addr != "" {
		srv := status.NewServer(cfg.Status.Addr, func() any { return n.Status() }, n.Registry, hub, logger)
		if err := srv.Start(); err != nil {
			logger.Error("status server unavailable", "error", err)
		} else {
			shutdown.Register("status", func() error {
				sctx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownGrace)
				defer cancel()
				return srv.Shutdown(sctx)
			})
		}
	}

	if len(cfg.Node.Bootstrap) > 0 {
		go func() {
			reached := n.Bootstrap(ctx)
			logger.Info("bootstrap finished", "reached", reached, "configured", len(cfg.Node.Bootstrap))
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return shutdown.Shutdown(context.Background())
}
