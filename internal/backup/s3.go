// Package backup stores verifier snapshots in S3-compatible object storage.
// Snapshots carry tag keys, so the bucket must be treated as secret material.
package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned when the requested snapshot does not exist.
var ErrNotFound = errors.New("backup: snapshot not found")

// ErrChecksum is returned when a downloaded snapshot does not match the
// checksum recorded at upload.
var ErrChecksum = errors.New("backup: snapshot checksum mismatch")

// checksumKey is the object metadata entry holding the hex SHA-256 of the body.
const checksumKey = "sha256"

// ObjectAPI is the subset of the S3 client used for snapshots.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client uploads and downloads snapshots under a key prefix.
type Client struct {
	api     ObjectAPI
	presign *s3.PresignClient // nil when built from a bare ObjectAPI
	bucket  string
	prefix  string
	logger  *zap.Logger
}

// Options configures NewS3Client.
type Options struct {
	Endpoint  string // Empty selects the AWS default endpoint
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// NewS3Client creates a client for AWS S3 or an S3-compatible service
// like MinIO.
func NewS3Client(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if opts.Bucket == "" {
		return nil, eris.New("backup: bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(opts.Endpoint))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     opts.AccessKey,
					SecretAccessKey: opts.SecretKey,
				}, nil
			})))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "backup: load AWS config")
	}

	// Path-style addressing keeps MinIO and other S3-compatible services working.
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	c := New(client, opts.Bucket, opts.Prefix, logger)
	c.presign = s3.NewPresignClient(client)
	return c, nil
}

// New wraps an existing object API.
func New(api ObjectAPI, bucket, prefix string, logger *zap.Logger) *Client {
	return &Client{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Key returns the object key for a snapshot name.
func (c *Client) Key(name string) string {
	name = strings.TrimSuffix(name, ".json") + ".json"
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// SnapshotName derives a sortable default name from t.
func SnapshotName(t time.Time) string {
	return "snapshot-" + t.UTC().Format("20060102T150405Z")
}

// PutSnapshot uploads snap as JSON and returns its object key.
func (c *Client) PutSnapshot(ctx context.Context, name string, snap model.Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", eris.Wrap(err, "backup: marshal snapshot")
	}
	sum := sha256.Sum256(body)
	key := c.Key(name)

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{checksumKey: hex.EncodeToString(sum[:])},
	})
	if err != nil {
		return "", eris.Wrapf(err, "backup: put %s", key)
	}
	c.logger.Info("snapshot uploaded", zap.String("bucket", c.bucket), zap.String("key", key), zap.Int("bytes", len(body)))
	return key, nil
}

// GetSnapshot downloads a snapshot and checks it against the stored checksum.
func (c *Client) GetSnapshot(ctx context.Context, name string) (model.Snapshot, error) {
	key := c.Key(name)
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return model.Snapshot{}, eris.Wrapf(ErrNotFound, "backup: get %s", key)
		}
		return model.Snapshot{}, eris.Wrapf(err, "backup: get %s", key)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return model.Snapshot{}, eris.Wrapf(err, "backup: read %s", key)
	}
	if want, ok := out.Metadata[checksumKey]; ok {
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != want {
			return model.Snapshot{}, eris.Wrapf(ErrChecksum, "backup: get %s", key)
		}
	}

	var snap model.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return model.Snapshot{}, eris.Wrapf(err, "backup: decode %s", key)
	}
	return snap, nil
}

// StatSnapshot reports the stored size of a snapshot.
func (c *Client) StatSnapshot(ctx context.Context, name string) (int64, error) {
	key := c.Key(name)
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return 0, eris.Wrapf(ErrNotFound, "backup: head %s", key)
		}
		return 0, eris.Wrapf(err, "backup: head %s", key)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// DownloadURL generates a presigned GET URL for a snapshot, so operators can
// fetch it without bucket credentials.
func (c *Client) DownloadURL(ctx context.Context, name string, expires time.Duration) (string, error) {
	if c.presign == nil {
		return "", eris.New("backup: presigning requires an S3 client")
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.Key(name)),
	}, func(o *s3.PresignOptions) {
		o.Expires = expires
	})
	if err != nil {
		return "", eris.Wrap(err, "backup: presign")
	}
	return req.URL, nil
}
