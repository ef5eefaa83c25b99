// Package fileflow composes the full share pipeline: seal the file for a
// policy, commit the blob through the four-phase write flow, publish it
// on chain and record its metadata.
package fileflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xhare/sealshare/blobstore"
	"github.com/xhare/sealshare/interfaces"
	"github.com/xhare/sealshare/metadata"
	"github.com/xhare/sealshare/policy"
	"github.com/xhare/sealshare/seal"
)

// Options tune one upload.
type Options struct {
	// Epochs is the retention period; zero selects the default.
	Epochs int

	// AllowPlaintext permits uploading unencrypted when the threshold
	// engine is unavailable. Off by default: degrading is an explicit
	// caller decision, never a silent fallback.
	AllowPlaintext bool
}

// Result describes one committed upload.
type Result struct {
	Record interfaces.BlobRecord

	// Protected is false only for the explicit plaintext degraded mode.
	Protected bool

	// EncryptionID is the envelope identifier in hex, empty when the
	// upload was plaintext.
	EncryptionID string
}

// Uploader runs upload pipelines for one wallet.
type Uploader struct {
	engine   *seal.Engine
	writer   *blobstore.Writer
	policies *policy.Client
	metadata *metadata.Client
	log      *slog.Logger
}

// NewUploader wires the pipeline. metadataClient may be nil when no
// metadata backend is configured.
func NewUploader(engine *seal.Engine, writer *blobstore.Writer, policies *policy.Client, metadataClient *metadata.Client, log *slog.Logger) *Uploader {
	return &Uploader{
		engine:   engine,
		writer:   writer,
		policies: policies,
		metadata: metadataClient,
		log:      log,
	}
}

// Upload seals and commits one file under a policy. When the threshold
// engine is unavailable and opts.AllowPlaintext is set, the file goes up
// unencrypted and the result says so.
func (u *Uploader) Upload(ctx context.Context, name string, data []byte, policyID interfaces.ObjectID, opts Options) (*Result, error) {
	if len(data) == 0 {
		return nil, errors.New("refusing to upload an empty file")
	}

	payload := data
	protected := true
	encryptionID := ""
	env, err := u.engine.Encrypt(ctx, data, policyID)
	switch {
	case err == nil:
		payload = env.Encode()
		encryptionID = env.IDHex()
	case errors.Is(err, interfaces.ErrEncryptionUnavailable) && opts.AllowPlaintext:
		protected = false
		u.log.Warn("uploading in plaintext degraded mode",
			slog.String("name", name),
			"err", err)
	default:
		return nil, err
	}

	record, err := u.writer.Commit(ctx, payload, opts.Epochs)
	if err != nil {
		return nil, err
	}

	if err := u.policies.PublishBlob(ctx, policyID, record.BlobID); err != nil {
		return nil, fmt.Errorf("blob committed but not published: %w", err)
	}

	if u.metadata != nil {
		err := u.metadata.UploadMetadata(ctx, metadata.FileMeta{
			BlobID:       record.BlobID,
			Name:         name,
			Size:         int64(len(data)),
			Encrypted:    protected,
			EncryptionID: encryptionID,
			PolicyID:     policyID.String(),
			Epochs:       record.Epochs,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			// The blob is live; a metadata hiccup must not undo that.
			u.log.Warn("could not record file metadata",
				slog.String("blob_id", record.BlobID.String()),
				"err", err)
		}
	}

	u.log.Info("file shared",
		slog.String("name", name),
		slog.String("blob_id", record.BlobID.String()),
		slog.String("policy", policyID.String()),
		slog.Bool("protected", protected))
	return &Result{Record: record, Protected: protected, EncryptionID: encryptionID}, nil
}
