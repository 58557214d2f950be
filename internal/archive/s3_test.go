package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	bucket string
	key    string
	body   []byte
	meta   map[string]string
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.meta = in.Metadata
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.err
}

func newTestArchiver(client objectAPI, prefix string) *S3Archiver {
	a := newS3Archiver(client, Config{Bucket: "invoices", Prefix: prefix}, nil)
	a.now = func() time.Time { return time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC) }
	return a
}

func TestS3Archiver_Archive(t *testing.T) {
	client := &fakeS3{}
	a := newTestArchiver(client, "/shop-a/")

	path := filepath.Join(t.TempDir(), "invoice-1001.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	require.NoError(t, a.Archive(context.Background(), "1001", path))
	assert.Equal(t, "invoices", client.bucket)
	assert.Equal(t, "shop-a/2026/03/invoice-1001.pdf", client.key)
	assert.Equal(t, "%PDF", string(client.body))
	assert.Equal(t, "1001", client.meta["order-number"])
}

func TestS3Archiver_KeyWithoutPrefix(t *testing.T) {
	a := newTestArchiver(&fakeS3{}, "")
	assert.Equal(t, "2026/03/invoice-7.pdf", a.KeyFor("/out/invoice-7.pdf"))
}

func TestS3Archiver_Errors(t *testing.T) {
	a := newTestArchiver(&fakeS3{}, "")
	require.Error(t, a.Archive(context.Background(), "1", filepath.Join(t.TempDir(), "missing.pdf")))

	failing := &fakeS3{err: errors.New("access denied")}
	a = newTestArchiver(failing, "")
	path := filepath.Join(t.TempDir(), "invoice-1.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	require.Error(t, a.Archive(context.Background(), "1", path))
	require.Error(t, a.Ping(context.Background()))
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), Config{}, nil)
	require.Error(t, err)
}
