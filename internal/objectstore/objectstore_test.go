package objectstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	exists    bool
	existsErr error
	made      []string
	putKey    string
	putBody   string
	putType   string
	putErr    error
	params    url.Values
}

func (f *fakeClient) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeClient) PutObject(_ context.Context, _ string, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	body, _ := io.ReadAll(reader)
	f.putKey, f.putBody, f.putType = object, string(body), opts.ContentType
	return minio.UploadInfo{Key: object, Size: size}, nil
}

func (f *fakeClient) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, params url.Values) (*url.URL, error) {
	f.params = params
	return url.Parse("https://s3.example.com/" + bucket + "/" + object + "?X-Amz-Signature=abc")
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	_, err := New(Config{Bucket: "exports"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = New(Config{Endpoint: "localhost:9000"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	s, err := New(Config{Endpoint: "localhost:9000", Bucket: "exports", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "exports", s.bucket)
}

func TestEnsureBucket(t *testing.T) {
	fake := &fakeClient{}
	require.NoError(t, newStore(fake, "exports").EnsureBucket(context.Background()))
	assert.Equal(t, []string{"exports"}, fake.made)

	existing := &fakeClient{exists: true}
	require.NoError(t, newStore(existing, "exports").EnsureBucket(context.Background()))
	assert.Empty(t, existing.made)

	broken := &fakeClient{existsErr: errors.New("denied")}
	assert.Error(t, newStore(broken, "exports").EnsureBucket(context.Background()))
}

func TestPutReturnsPresignedLink(t *testing.T) {
	fake := &fakeClient{}
	s := newStore(fake, "exports")
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	obj, err := s.Put(context.Background(), "discussions/dsc_1", "Budget.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "discussions/dsc_1/20240601T123000Z/Budget.pdf", obj.Key)
	assert.Equal(t, int64(4), obj.Size)
	assert.Equal(t, "https://s3.example.com/exports/discussions/dsc_1/20240601T123000Z/Budget.pdf?X-Amz-Signature=abc", obj.URL)
	assert.Equal(t, now.Add(24*time.Hour), obj.ExpiresAt)
	assert.Equal(t, "%PDF", fake.putBody)
	assert.Equal(t, "application/pdf", fake.putType)
	assert.Equal(t, `attachment; filename="Budget.pdf"`, fake.params.Get("response-content-disposition"))
}

func TestPutWrapsUploadErrors(t *testing.T) {
	s := newStore(&fakeClient{putErr: errors.New("quota")}, "exports")
	_, err := s.Put(context.Background(), "p", "f.html", "text/html", []byte("x"))
	assert.ErrorContains(t, err, "quota")
}
