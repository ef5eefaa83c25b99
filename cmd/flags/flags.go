// Package flags holds the CLI flags and setup helpers shared by the
// sealshare binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/xhare/sealshare/common"
	"github.com/xhare/sealshare/keyserver"
)

func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJSONFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUIDFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *keyserver.ServerConfig {
	return &keyserver.ServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var RPCAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "http://127.0.0.1:9000",
	Usage: "address of the ledger JSON-RPC endpoint",
}

var PackageFlag = &cli.StringFlag{
	Name:     "package",
	Required: true,
	Usage:    "object address of the allowlist package, 0x-prefixed hex",
}

var WalletSeedFlag = &cli.StringFlag{
	Name:    "wallet-seed",
	EnvVars: []string{"SEALSHARE_WALLET_SEED"},
	Usage:   "hex-encoded 32-byte wallet seed",
}

var PublisherFlag = &cli.StringFlag{
	Name:  "publisher",
	Usage: "base URL of the blob store publisher",
}

var MirrorsFlag = &cli.StringSliceFlag{
	Name:  "mirror",
	Usage: "blob mirror URI (walrus://, ipfs://, s3://, file://); repeatable",
}

var KeyServerFlag = &cli.StringSliceFlag{
	Name:  "key-server",
	Usage: "key server as object-id=url; repeatable, at least two needed",
}

var ThresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "key servers required to release a data key",
}

var MetadataURLFlag = &cli.StringFlag{
	Name:  "metadata-url",
	Usage: "base URL of the file metadata backend (optional)",
}

var SessionDirFlag = &cli.StringFlag{
	Name:  "session-dir",
	Usage: "directory for the stored session credential (in-memory if unset)",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var ServerKeyFileFlag = &cli.StringFlag{
	Name:     "server-key-file",
	Required: true,
	Usage:    "PEM file with the key server's EC private key",
}

var ServerObjectFlag = &cli.StringFlag{
	Name:     "server-object",
	Required: true,
	Usage:    "on-chain object ID of this key server",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}
