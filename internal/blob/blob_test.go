package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/raphaelgruber/kbstudio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGet(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "imports/job-1/methods.csv", []byte("a,b\n"), "text/csv"))

	data, err := os.ReadFile(filepath.Join(root, "imports", "job-1", "methods.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	got, err := s.Get(ctx, "imports/job-1/methods.csv")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		t.Run(key, func(t *testing.T) {
			err := s.Put(context.Background(), key, []byte("x"), "")
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakeS3{}
	s := &S3Store{client: fake, bucket: "uploads"}

	require.NoError(t, s.Put(context.Background(), "imports/j/m.csv", []byte("hello"), "text/csv"))
	assert.Equal(t, "uploads", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "imports/j/m.csv", aws.ToString(fake.in.Key))
	assert.Equal(t, "text/csv", aws.ToString(fake.in.ContentType))
	assert.Equal(t, int64(5), aws.ToInt64(fake.in.ContentLength))
	assert.Equal(t, "hello", string(fake.body))

	fake.err = errors.New("access denied")
	err := s.Put(context.Background(), "k", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://uploads/k")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), config.Config{BlobBackend: config.BlobFile, BlobDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = Open(context.Background(), config.Config{BlobBackend: config.BlobNone})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = Open(context.Background(), config.Config{BlobBackend: config.BlobS3})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = Open(context.Background(), config.Config{BlobBackend: "ftp"})
	assert.ErrorContains(t, err, "unknown blob backend")
}
