package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RegistryAccord/registryaccord-phigital-go/internal/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type object struct {
	body     []byte
	metadata map[string]string
}

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]object
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]object{}} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = object{body: body, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) get(in string) (object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[in]
	return o, ok
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o, ok := f.get(aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body)), Metadata: o.metadata}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	o, ok := f.get(aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(o.body)))}, nil
}

func sampleSnapshot() model.Snapshot {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return model.Snapshot{
		QRCodes: []model.VerificationRecord{{TokenID: 7, ContractAddress: "0xabc", NetworkID: 1, VerificationHash: "h1", CreatedAt: now}},
		NFCTags: []model.NFCTagRecord{{
			VerificationRecord: model.VerificationRecord{TokenID: 7, ContractAddress: "0xabc", NetworkID: 1, VerificationHash: "h2", CreatedAt: now},
			TagID:              "nfc-01",
			EncryptionKey:      "secret-key",
		}},
		ExportedAt: now,
	}
}

func TestKey(t *testing.T) {
	c := New(newFakeS3(), "bucket", "/phigital/snapshots/", zaptest.NewLogger(t))
	assert.Equal(t, "phigital/snapshots/daily.json", c.Key("daily"))
	assert.Equal(t, "phigital/snapshots/daily.json", c.Key("daily.json"))

	bare := New(newFakeS3(), "bucket", "", zaptest.NewLogger(t))
	assert.Equal(t, "daily.json", bare.Key("daily"))
}

func TestSnapshotName(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 3, 4, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "snapshot-20240501T120304Z", SnapshotName(ts))
}

func TestPutGetSnapshot(t *testing.T) {
	api := newFakeS3()
	c := New(api, "bucket", "snaps", zaptest.NewLogger(t))
	ctx := context.Background()

	key, err := c.PutSnapshot(ctx, "one", sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "snaps/one.json", key)

	got, err := c.GetSnapshot(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, sampleSnapshot(), got)
	assert.Equal(t, "secret-key", got.NFCTags[0].EncryptionKey)

	size, err := c.StatSnapshot(ctx, "one")
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestGetSnapshotMissing(t *testing.T) {
	c := New(newFakeS3(), "bucket", "snaps", zaptest.NewLogger(t))
	_, err := c.GetSnapshot(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = c.StatSnapshot(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetSnapshotChecksumMismatch(t *testing.T) {
	api := newFakeS3()
	c := New(api, "bucket", "snaps", zaptest.NewLogger(t))
	ctx := context.Background()
	_, err := c.PutSnapshot(ctx, "one", sampleSnapshot())
	require.NoError(t, err)

	o, _ := api.get("bucket/snaps/one.json")
	o.body = bytes.Replace(o.body, []byte("secret-key"), []byte("public-key"), 1)
	api.objects["bucket/snaps/one.json"] = o

	_, err = c.GetSnapshot(ctx, "one")
	assert.True(t, errors.Is(err, ErrChecksum))
}

func TestDownloadURL(t *testing.T) {
	c, err := NewS3Client(context.Background(), Options{
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		Bucket:    "phigital",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Prefix:    "snaps",
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	url, err := c.DownloadURL(context.Background(), "one", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:9000/phigital/snaps/one.json?"), url)
	assert.Contains(t, url, "X-Amz-Signature=")

	_, err = New(newFakeS3(), "b", "", zaptest.NewLogger(t)).DownloadURL(context.Background(), "one", time.Minute)
	assert.Error(t, err)
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), Options{Region: "us-east-1"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
