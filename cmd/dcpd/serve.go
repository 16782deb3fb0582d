package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	dcp "github.com/machinefabric/dcp-go"
	"github.com/machinefabric/dcp-go/config"
	"github.com/machinefabric/dcp-go/internal/logging"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/security"
	"github.com/machinefabric/dcp-go/stream"
)

var (
	serveListenFlag   string
	serveKeysFlag     string
	serveInsecureFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections and serve the built-in tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveListenFlag != "" {
			cfg.Server.ListenAddr = serveListenFlag
		}
		if serveKeysFlag != "" {
			cfg.Security.AuthorizedKeys = serveKeysFlag
		}
		if serveInsecureFlag {
			cfg.Security.RequireSignatures = false
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.ListenAddr, err)
		}
		return serve(ctx, ln, cfg, logger)
	},
}

// serve accepts on ln until ctx ends, then waits for open connections.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger zerolog.Logger) error {
	verifier, err := newVerifier(cfg.Security)
	if err != nil {
		return err
	}
	if verifier == nil {
		logger.Warn().Msg("signature checks disabled")
	}

	r := router.New(logger)
	registerBuiltins(r)
	r.Freeze()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info().
		Str("addr", ln.Addr().String()).
		Strs("tools", r.Tools()).
		Msg("dcpd listening")

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info().Msg("dcpd shutting down")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()

			connLog := logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
			err := dcp.Serve(ctx, conn, dcp.ServeOptions{
				SessionOptions: dcp.SessionOptions{
					Router:   r,
					Verifier: verifier,
					Limits:   cfg.Limits,
					Stream: stream.Config{
						Capacity:    cfg.Stream.Capacity,
						MaxBytes:    cfg.Stream.MaxBytes,
						IdleTimeout: cfg.Stream.IdleTimeout,
					},
					Logger: connLog,
				},
				HandshakeTimeout: cfg.Server.HandshakeTimeout,
				ReclaimInterval:  cfg.Server.ReclaimInterval,
			})
			if err != nil {
				connLog.Debug().Err(err).Msg("connection ended with error")
			}
		}(conn)
	}
}

// newVerifier returns nil when signatures are not required. The nonce
// store is shared by every connection so a nonce cannot be replayed on a
// second socket.
func newVerifier(sc config.SecurityConfig) (*security.Verifier, error) {
	if !sc.RequireSignatures {
		return nil, nil
	}
	keys, err := security.LoadAuthorizedKeys(sc.AuthorizedKeys)
	if err != nil {
		return nil, err
	}
	nonces := security.NewNonceStore(sc.NonceWindow, sc.NonceCapacity)
	return security.NewVerifier(keys, nonces, nil), nil
}

func init() {
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "", "override server.listen_addr")
	serveCmd.Flags().StringVar(&serveKeysFlag, "authorized-keys", "", "override security.authorized_keys")
	serveCmd.Flags().BoolVar(&serveInsecureFlag, "insecure", false, "accept unsigned invocations")
	rootCmd.AddCommand(serveCmd)
}
