package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/xhare/sealshare/blobstore"
	"github.com/xhare/sealshare/chain"
	"github.com/xhare/sealshare/cmd/flags"
	"github.com/xhare/sealshare/common"
	"github.com/xhare/sealshare/fileflow"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/keyserver"
	"github.com/xhare/sealshare/metadata"
	"github.com/xhare/sealshare/orchestrator"
	"github.com/xhare/sealshare/policy"
	"github.com/xhare/sealshare/seal"
	"github.com/xhare/sealshare/session"
	"github.com/xhare/sealshare/wallet"
)

var commonFlags = []cli.Flag{
	flags.RPCAddrFlag,
	flags.PackageFlag,
	flags.WalletSeedFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
}

var uploadFlags = append([]cli.Flag{
	flags.PublisherFlag,
	flags.KeyServerFlag,
	flags.ThresholdFlag,
	flags.MetadataURLFlag,
	&cli.StringFlag{Name: "policy", Required: true, Usage: "policy object ID to share under"},
	&cli.IntFlag{Name: "epochs", Value: blobstore.DefaultEpochs, Usage: "retention period in epochs"},
	&cli.BoolFlag{Name: "allow-plaintext", Usage: "upload unencrypted if key servers are unavailable"},
}, commonFlags...)

var downloadFlags = append([]cli.Flag{
	flags.MirrorsFlag,
	flags.KeyServerFlag,
	flags.ThresholdFlag,
	flags.SessionDirFlag,
	&cli.StringFlag{Name: "policy", Required: true, Usage: "policy object ID to decrypt under"},
	&cli.StringFlag{Name: "out-dir", Value: ".", Usage: "directory to write decrypted files into"},
}, commonFlags...)

func main() {
	app := &cli.App{
		Name:    "sealshare",
		Usage:   "Share files under on-chain allowlist policies with threshold encryption",
		Version: common.Version,
		Commands: []*cli.Command{
			{
				Name:  "create-policy",
				Usage: "Create a named access policy and receive its capability",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "policy name"},
				}, commonFlags...),
				Action: runCreatePolicy,
			},
			{
				Name:  "add-member",
				Usage: "Grant an address access to a policy",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "policy", Required: true, Usage: "policy object ID"},
					&cli.StringFlag{Name: "address", Required: true, Usage: "member wallet address"},
				}, commonFlags...),
				Action: runAddMember,
			},
			{
				Name:  "remove-member",
				Usage: "Revoke an address from a policy",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "policy", Required: true, Usage: "policy object ID"},
					&cli.StringFlag{Name: "address", Required: true, Usage: "member wallet address"},
				}, commonFlags...),
				Action: runRemoveMember,
			},
			{
				Name:   "list-policies",
				Usage:  "List policies the wallet holds capabilities for",
				Flags:  commonFlags,
				Action: runListPolicies,
			},
			{
				Name:      "upload",
				Usage:     "Encrypt and share a file under a policy",
				ArgsUsage: "<file>",
				Flags:     uploadFlags,
				Action:    runUpload,
			},
			{
				Name:   "download",
				Usage:  "Fetch and decrypt everything published under a policy",
				Flags:  downloadFlags,
				Action: runDownload,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// base assembles the pieces every command needs.
type base struct {
	log      *slog.Logger
	ledger   *chain.Client
	signer   *wallet.Signer
	policies *policy.Client
}

func setup(cCtx *cli.Context) (*base, error) {
	logger := flags.SetupLogger(cCtx)

	seedHex := cCtx.String(flags.WalletSeedFlag.Name)
	if seedHex == "" {
		return nil, errors.New("wallet-seed is required (flag or SEALSHARE_WALLET_SEED)")
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid wallet seed: %w", err)
	}
	signer, err := wallet.NewSignerFromSeed(seed)
	if err != nil {
		return nil, err
	}

	ledger, err := chain.Dial(cCtx.Context, cCtx.String(flags.RPCAddrFlag.Name), logger)
	if err != nil {
		return nil, err
	}

	packageID := cCtx.String(flags.PackageFlag.Name)
	if _, err := interfaces.NewObjectIDFromHex(packageID); err != nil {
		return nil, fmt.Errorf("invalid package address: %w", err)
	}

	return &base{
		log:      logger,
		ledger:   ledger,
		signer:   signer,
		policies: policy.NewClient(ledger, signer, strings.ToLower(packageID), logger),
	}, nil
}

// parseKeyServers reads repeated object-id=url flags.
func parseKeyServers(cCtx *cli.Context) ([]interfaces.KeyServerRef, error) {
	raw := cCtx.StringSlice(flags.KeyServerFlag.Name)
	refs := make([]interfaces.KeyServerRef, 0, len(raw))
	for _, entry := range raw {
		objectIDHex, url, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("key server %q is not object-id=url", entry)
		}
		objectID, err := interfaces.NewObjectIDFromHex(objectIDHex)
		if err != nil {
			return nil, fmt.Errorf("key server %q: %w", entry, err)
		}
		refs = append(refs, interfaces.KeyServerRef{ObjectID: objectID, URL: url})
	}
	if len(refs) < 2 {
		return nil, errors.New("at least two key servers are required")
	}
	return refs, nil
}

func runCreatePolicy(cCtx *cli.Context) error {
	b, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer b.ledger.Close()

	policyID, capID, err := b.policies.CreatePolicy(cCtx.Context, cCtx.String("name"))
	if err != nil {
		return err
	}
	fmt.Printf("policy %s\ncapability %s\n", policyID, capID)
	return nil
}

func runAddMember(cCtx *cli.Context) error {
	return runMembership(cCtx, true)
}

func runRemoveMember(cCtx *cli.Context) error {
	return runMembership(cCtx, false)
}

func runMembership(cCtx *cli.Context, add bool) error {
	b, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer b.ledger.Close()

	policyID, err := interfaces.NewObjectIDFromHex(cCtx.String("policy"))
	if err != nil {
		return err
	}
	if add {
		return b.policies.AddMember(cCtx.Context, policyID, cCtx.String("address"))
	}
	return b.policies.RemoveMember(cCtx.Context, policyID, cCtx.String("address"))
}

func runListPolicies(cCtx *cli.Context) error {
	b, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer b.ledger.Close()

	policies, err := b.policies.ListOwnedPolicies(cCtx.Context)
	if err != nil {
		return err
	}
	for _, p := range policies {
		fmt.Printf("%s\t%s\tmembers=%d blobs=%d\n", p.ID, p.Name, len(p.Members), len(p.BlobRefs))
	}
	return nil
}

func runUpload(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return errors.New("upload expects exactly one file argument")
	}
	b, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer b.ledger.Close()

	policyID, err := interfaces.NewObjectIDFromHex(cCtx.String("policy"))
	if err != nil {
		return err
	}
	refs, err := parseKeyServers(cCtx)
	if err != nil {
		return err
	}
	publisherURL := cCtx.String(flags.PublisherFlag.Name)
	if publisherURL == "" {
		return errors.New("publisher is required for upload")
	}

	engine, err := seal.NewEngine(keyserver.NewClient(b.log), refs, cCtx.Int(flags.ThresholdFlag.Name), b.log)
	if err != nil {
		return err
	}

	var metadataClient *metadata.Client
	if metadataURL := cCtx.String(flags.MetadataURLFlag.Name); metadataURL != "" {
		metadataClient = metadata.NewClient(metadataURL, b.log)
		if err := metadataClient.Authenticate(cCtx.Context, b.signer); err != nil {
			return err
		}
	}

	path := cCtx.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	writer := blobstore.NewWriter(blobstore.NewPublisher(publisherURL, b.log), b.ledger, b.signer, b.log)
	uploader := fileflow.NewUploader(engine, writer, b.policies, metadataClient, b.log)
	result, err := uploader.Upload(cCtx.Context, filepath.Base(path), data, policyID, fileflow.Options{
		Epochs:         cCtx.Int("epochs"),
		AllowPlaintext: cCtx.Bool("allow-plaintext"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("blob %s protected=%t\n", result.Record.BlobID, result.Protected)
	return nil
}

func runDownload(cCtx *cli.Context) error {
	b, err := setup(cCtx)
	if err != nil {
		return err
	}
	defer b.ledger.Close()

	policyID, err := interfaces.NewObjectIDFromHex(cCtx.String("policy"))
	if err != nil {
		return err
	}
	refs, err := parseKeyServers(cCtx)
	if err != nil {
		return err
	}
	pool, err := blobstore.NewMirrorFactory(b.log).PoolFor(cCtx.StringSlice(flags.MirrorsFlag.Name))
	if err != nil {
		return err
	}

	var store session.Store = session.NewMemoryStore()
	if dir := cCtx.String(flags.SessionDirFlag.Name); dir != "" {
		store, err = session.NewFileStore(dir)
		if err != nil {
			return err
		}
	}
	packageID, err := interfaces.NewObjectIDFromHex(cCtx.String(flags.PackageFlag.Name))
	if err != nil {
		return err
	}
	sessions := session.NewManager(b.signer, packageID, store, b.log)

	orch, err := orchestrator.New(pool, keyserver.NewClient(b.log), sessions, b.policies,
		refs, cCtx.Int(flags.ThresholdFlag.Name), b.log)
	if err != nil {
		return err
	}

	published, err := b.policies.GetPolicy(cCtx.Context, policyID)
	if err != nil {
		return err
	}
	if len(published.BlobRefs) == 0 {
		return errors.New("policy has no published blobs")
	}

	files, err := orch.Decrypt(cCtx.Context, policyID, published.BlobRefs)
	if err != nil {
		return err
	}

	outDir := cCtx.String("out-dir")
	for _, file := range files {
		path := filepath.Join(outDir, file.Name)
		if err := os.WriteFile(path, file.Data, 0o600); err != nil {
			return err
		}
		fmt.Println(path)
	}
	return nil
}
