package s3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjudiciary/ecourts-archiver/internal/storage"
	"github.com/openjudiciary/ecourts-archiver/internal/storage/s3"
)

type fakeClient struct {
	objects map[string][]byte
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string][]byte{}}
}

func (c *fakeClient) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if c.putErr != nil {
		return nil, c.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	c.objects[aws.ToString(in.Key)] = data
	return &awss3.PutObjectOutput{}, nil
}

func (c *fakeClient) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	data, ok := c.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (c *fakeClient) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if _, ok := c.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{}, nil
}

func (c *fakeClient) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	var contents []types.Object
	for key := range c.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			contents = append(contents, types.Object{Key: aws.String(key)})
		}
	}
	return &awss3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store, err := s3.NewWithClient(client, "court-archives")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "data/tar/orders.tar", "application/x-tar",
		strings.NewReader("tar-bytes")))

	data, err := store.Get(ctx, "data/tar/orders.tar")
	require.NoError(t, err)
	assert.Equal(t, []byte("tar-bytes"), data)

	exists, err := store.Exists(ctx, "data/tar/orders.tar")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists(ctx, "data/tar/missing.tar")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Get(ctx, "data/tar/missing.tar")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	store, err := s3.NewWithClient(client, "court-archives")
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"metadata/tar/a.index.json", "metadata/tar/b.index.json", "data/tar/c.tar"} {
		require.NoError(t, store.Put(ctx, key, "", strings.NewReader("v")))
	}

	paths, err := store.List(ctx, "metadata/tar/")
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestStoreClassifiesAccessDenied(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.putErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	store, err := s3.NewWithClient(client, "court-archives")
	require.NoError(t, err)

	err = store.Put(context.Background(), "obj", "", strings.NewReader("v"))
	require.Error(t, err)
	assert.True(t, storage.IsFatal(err))
}

func TestStoreLeavesTransientErrorsRetryable(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.putErr = errors.New("connection reset")
	store, err := s3.NewWithClient(client, "court-archives")
	require.NoError(t, err)

	err = store.Put(context.Background(), "obj", "", strings.NewReader("v"))
	require.Error(t, err)
	assert.False(t, storage.IsFatal(err))
}

func TestNewWithClientValidation(t *testing.T) {
	t.Parallel()

	_, err := s3.NewWithClient(nil, "bucket")
	require.Error(t, err)
	_, err = s3.NewWithClient(newFakeClient(), "")
	require.Error(t, err)
}
