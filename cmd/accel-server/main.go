// Command accel-server runs a minimal echo server on top of the
// accelerator SDK: every payload it receives from a client, it sends
// straight back. Grounded on examples/simple_server.cpp's next_server_
// create/update/flush/destroy loop.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/networknext/sdk-sub001/accel"
	"github.com/networknext/sdk-sub001/address"
	"github.com/networknext/sdk-sub001/filter"
)

func main() {
	publicAddr := flag.String("public-address", "127.0.0.1:50000", "address clients connect to")
	bindAddr := flag.String("bind-address", "0.0.0.0:50000", "local address to bind")
	datacenter := flag.String("datacenter", "local", "datacenter name reported to the backend")
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	flag.Parse()

	runID := xid.New()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("run_id", runID.String()))

	cfg := accel.DefaultConfig()
	if *configPath != "" {
		loaded, err := accel.LoadConfigFile(*configPath)
		if err != nil {
			logger.Error("load config", slog.String("err", err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("starting server", slog.String("fingerprint", cfg.Fingerprint()))

	var buyerPrivateKey ed25519.PrivateKey
	if len(cfg.BuyerPrivateKey) > 0 {
		buyerPrivateKey = ed25519.PrivateKey(cfg.BuyerPrivateKey)
	} else {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			logger.Error("generate buyer key", slog.String("err", err.Error()))
			os.Exit(1)
		}
		buyerPrivateKey = priv
		logger.Warn("no buyer private key configured, generated an ephemeral one for this run")
	}

	var srv *accel.Server
	onPacket := func(from address.Address, payload []byte) {
		logger.Info("echoing packet back", slog.String("to", from.String()), slog.Int("bytes", len(payload)))
		if err := srv.SendPacket(from, payload); err != nil {
			logger.Warn("echo send failed", slog.String("err", err.Error()))
		}
	}

	srv, err := accel.NewServer(cfg, *publicAddr, *bindAddr, *datacenter, filter.MagicSet{}, buyerPrivateKey, onPacket, logger)
	if err != nil {
		logger.Error("create server", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Second / 60)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				srv.Update(time.Now())
			}
		}
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	_ = g.Wait()

	srv.Flush()
	if err := srv.Destroy(); err != nil {
		logger.Error("destroy server", slog.String("err", err.Error()))
	}
}
