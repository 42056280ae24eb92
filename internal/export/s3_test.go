package export

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/newsletter-engine/internal/config"
)

type fakeS3 struct {
	input *s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	return &s3.PutObjectOutput{}, nil
}

func TestPutPrefixesKeyAndBuildsURL(t *testing.T) {
	api := &fakeS3{}
	u := &Uploader{client: api, bucket: "exports", region: "us-east-1", prefix: "rendered"}

	url, err := u.Put(t.Context(), "newsletters/nl-1/1700000000.html", "text/html; charset=utf-8", []byte("<html></html>"))
	require.NoError(t, err)

	assert.Equal(t, "rendered/newsletters/nl-1/1700000000.html", *api.input.Key)
	assert.Equal(t, "text/html; charset=utf-8", *api.input.ContentType)

	body, err := io.ReadAll(api.input.Body)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(body))

	assert.Equal(t, "https://exports.s3.us-east-1.amazonaws.com/rendered/newsletters/nl-1/1700000000.html", url)
}

func TestPutWithoutPrefix(t *testing.T) {
	api := &fakeS3{}
	u := &Uploader{client: api, bucket: "exports", region: "eu-west-1"}

	url, err := u.Put(t.Context(), "newsletters/nl-2/x.html", "text/html", nil)
	require.NoError(t, err)
	assert.Equal(t, "newsletters/nl-2/x.html", *api.input.Key)
	assert.Equal(t, "https://exports.s3.eu-west-1.amazonaws.com/newsletters/nl-2/x.html", url)
}

func TestNewUploaderNilWithoutBucket(t *testing.T) {
	u, err := NewUploader(t.Context(), config.ExportConfig{})
	require.NoError(t, err)
	assert.Nil(t, u)
}
