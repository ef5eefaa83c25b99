package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/cmd/flags"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/keyserver"
	"github.com/xhare/sealshare/seal"
)

var keyServerFlags = []cli.Flag{
	flags.ListenAddrFlag,
	flags.RPCAddrFlag,
	flags.PackageFlag,
	flags.ServerKeyFileFlag,
	flags.ServerObjectFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
}

func main() {
	app := &cli.App{
		Name:  "sealshare-keyserver",
		Usage: "Serve threshold key shares gated by on-chain policies",
		Flags: keyServerFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			objectID, err := interfaces.NewObjectIDFromHex(cCtx.String(flags.ServerObjectFlag.Name))
			if err != nil {
				return fmt.Errorf("invalid server object id: %w", err)
			}
			packageID := cCtx.String(flags.PackageFlag.Name)
			if _, err := interfaces.NewObjectIDFromHex(packageID); err != nil {
				return fmt.Errorf("invalid package address: %w", err)
			}

			keyPEM, err := os.ReadFile(cCtx.String(flags.ServerKeyFileFlag.Name))
			if err != nil {
				return err
			}
			privateKey, err := seal.ParsePrivateKeyPEM(keyPEM)
			if err != nil {
				return fmt.Errorf("could not parse server key: %w", err)
			}

			rpcAddress := cCtx.String(flags.RPCAddrFlag.Name)
			logger.Info("Connecting to ledger RPC", "address", rpcAddress)
			ledger, err := chain.Dial(cCtx.Context, rpcAddress, logger)
			if err != nil {
				logger.Error("Failed to dial RPC", "err", err)
				return err
			}
			defer ledger.Close()

			handler := keyserver.NewHandler(objectID, privateKey, packageID, ledger, logger)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
			server, err := keyserver.NewServer(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server", "object", objectID.String())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
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
