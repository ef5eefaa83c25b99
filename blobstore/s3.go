package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/xhare/sealshare/interfaces"
)

// S3Mirror serves blobs from an S3 or compatible bucket, one object per
// blob ID under an optional key prefix. Credentials are optional; public
// buckets work without them.
type S3Mirror struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Mirror creates a mirror over a bucket. endpoint is optional and
// selects an S3-compatible service.
func NewS3Mirror(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Mirror, error) {
	cfg := aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += "&endpoint=" + endpoint
	}
	return &S3Mirror{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

func (m *S3Mirror) objectKey(id interfaces.BlobID) string {
	if m.prefix == "" {
		return id.String()
	}
	return path.Join(m.prefix, id.String())
}

// Fetch retrieves blob bytes by ID from the bucket.
func (m *S3Mirror) Fetch(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	start := time.Now()
	key := m.objectKey(id)

	out, err := m.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrBlobNotFound
		}
		m.log.Warn("s3 fetch failed",
			slog.String("bucket", m.bucketName),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMirrorUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob object: %w", err)
	}

	m.log.Debug("fetched blob from s3",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Available checks the bucket responds to a head request.
func (m *S3Mirror) Available(ctx context.Context) bool {
	_, err := m.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(m.bucketName),
	})
	return err == nil
}

// Name returns an identifier for logging.
func (m *S3Mirror) Name() string {
	return "s3"
}

// LocationURI returns the URI this mirror was built from.
func (m *S3Mirror) LocationURI() string {
	return m.locationURI
}
