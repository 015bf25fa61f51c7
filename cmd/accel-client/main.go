// Command accel-client drives a session against an accel-server: opens
// a session, sends a counter payload once a second, and logs whatever
// comes back. Grounded on examples/complex_client.cpp's
// next_client_open_session/send_packet/update loop, trimmed to the
// cadence of examples/simple_server.cpp's counterpart.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/networknext/sdk-sub001/accel"
	"github.com/networknext/sdk-sub001/filter"
)

func main() {
	bindAddr := flag.String("bind-address", "0.0.0.0:0", "local address to bind")
	serverAddr := flag.String("server-address", "127.0.0.1:50000", "server address to connect to")
	buyerPublicKeyB64 := flag.String("buyer-public-key", "", "base64-encoded buyer public key")
	flag.Parse()

	runID := xid.New()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("run_id", runID.String()))

	cfg := accel.DefaultConfig()
	cfg.ApplyEnv()
	if *buyerPublicKeyB64 != "" {
		cfg.BuyerPublicKeyBase64 = *buyerPublicKeyB64
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var buyerPublicKey ed25519.PublicKey
	if len(cfg.BuyerPublicKey) > 0 {
		buyerPublicKey = ed25519.PublicKey(cfg.BuyerPublicKey)
	} else {
		logger.Warn("no buyer public key configured, upgrade requests will be rejected")
	}

	onPacket := func(payload []byte) {
		logger.Info("received packet", slog.Int("bytes", len(payload)))
	}

	client, err := accel.NewClient(cfg, *bindAddr, filter.MagicSet{}, buyerPublicKey, onPacket, logger)
	if err != nil {
		logger.Error("create client", slog.String("err", err.Error()))
		os.Exit(1)
	}

	if err := client.OpenSession(*serverAddr); err != nil {
		logger.Error("open session", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		updateTicker := time.NewTicker(time.Second / 60)
		defer updateTicker.Stop()
		sendTicker := time.NewTicker(time.Second)
		defer sendTicker.Stop()

		var counter uint32
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-updateTicker.C:
				client.Update(time.Now())
			case <-sendTicker.C:
				payload := make([]byte, 4)
				binary.LittleEndian.PutUint32(payload, counter)
				counter++
				if err := client.SendPacket(payload); err != nil {
					logger.Warn("send failed", slog.String("err", err.Error()))
				}
				logger.Info("client phase", slog.String("phase", client.Phase()))
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

	client.CloseSession()
	if err := client.Destroy(); err != nil {
		logger.Error("destroy client", slog.String("err", err.Error()))
	}
}
