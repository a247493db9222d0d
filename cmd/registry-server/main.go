package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/world-registry/cmd/flags"
	"github.com/ruteri/world-registry/httpserver"
	"github.com/ruteri/world-registry/identity"
	"github.com/ruteri/world-registry/protocol"
	"github.com/ruteri/world-registry/registry"
	"github.com/ruteri/world-registry/storage"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	flags.AddressFlag,
	flags.IdentityFlag,
	flags.RegenerateCorruptIdentityFlag,
	flags.StoreFlag,
	flags.StoreTimeoutFlag,
	flags.RegistrationAttemptsFlag,
	flags.ListenAddrFlag,
	flags.TLSFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "registry-server",
		Usage: "Serve the world registry DID document and register the world registry protocol",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			address := cCtx.String(flags.AddressFlag.Name)
			logger := flags.SetupLogger(cCtx)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := identity.RepositoryFor(cCtx.String(flags.IdentityFlag.Name), logger)
			if err != nil {
				logger.Error("Invalid identity location", "err", err)
				return err
			}

			store, err := storage.MultiStoreFor(ctx, cCtx.StringSlice(flags.StoreFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open protocol store", "err", err)
				return err
			}
			if closer, ok := store.(io.Closer); ok {
				defer closer.Close()
			}
			logger.Info("Protocol store ready", "store", store.Name())

			svc, err := registry.Start(ctx, registry.Config{
				Address:    address,
				Repository: repo,
				Store:      store,
				Bootstrap: identity.BootstrapOptions{
					RegenerateCorrupt: cCtx.Bool(flags.RegenerateCorruptIdentityFlag.Name),
				},
				Registrar: protocol.Config{
					OpTimeout:   cCtx.Duration(flags.StoreTimeoutFlag.Name),
					MaxAttempts: cCtx.Uint64(flags.RegistrationAttemptsFlag.Name),
				},
				Log: logger,
			})
			if err != nil {
				logger.Error("Registry startup failed", "err", err)
				return err
			}
			defer svc.Close()

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), svc.Handler())
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "did", svc.Agent().DID())
			server.RunInBackground()

			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
