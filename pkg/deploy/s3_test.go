package deploy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/platinummonkey/webcompile/pkg/compilation/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	mu           sync.Mutex
	objects      map[string][]byte
	metadata     map[string]map[string]string
	bucketExists bool
	created      bool
	putErr       error
	createErr    error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:      make(map[string][]byte),
		metadata:     make(map[string]map[string]string),
		bucketExists: true,
	}
}

func (m *mockS3Client) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	m.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !m.bucketExists {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) CreateBucket(context.Context, *s3.CreateBucketInput, ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = true
	m.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func precompiledSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.PrecompiledMarkerFile), []byte("version: 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "App_Web_root.dll"), []byte("MZ"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "a.aspx.compiled"), []byte("kind: 2\n"), 0o644))
	return dir
}

func untar(t *testing.T, data []byte) map[string]string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(content)
	}
	return files
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, Config{Bucket: "b"}, nil)
	assert.Error(t, err)

	_, err = NewPublisher(newMockS3Client(), Config{}, nil)
	assert.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	api := newMockS3Client()
	publisher, err := NewPublisher(api, Config{Bucket: "sites", Prefix: "/shop/"}, logrus.New())
	require.NoError(t, err)

	manifest, err := publisher.Publish(context.Background(), precompiledSite(t), "v42")
	require.NoError(t, err)

	assert.Equal(t, "shop/v42/site.tar.gz", manifest.Key)
	assert.Len(t, manifest.Checksum, 64)
	assert.ElementsMatch(t, []string{config.PrecompiledMarkerFile, "bin/App_Web_root.dll", "bin/a.aspx.compiled"}, manifest.Files)

	archive := api.objects["shop/v42/site.tar.gz"]
	require.NotEmpty(t, archive)
	assert.Equal(t, int64(len(archive)), manifest.Size)
	assert.Equal(t, manifest.Checksum, api.metadata["shop/v42/site.tar.gz"]["checksum-sha256"])
	assert.Equal(t, "v42", string(api.objects["shop/latest"]))

	files := untar(t, archive)
	assert.Equal(t, "MZ", files["bin/App_Web_root.dll"])
	assert.Equal(t, "version: 2\n", files[config.PrecompiledMarkerFile])
}

func TestPublisher_DefaultVersion(t *testing.T) {
	api := newMockS3Client()
	publisher, err := NewPublisher(api, Config{Bucket: "sites"}, nil)
	require.NoError(t, err)
	publisher.now = func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) }

	manifest, err := publisher.Publish(context.Background(), precompiledSite(t), "")
	require.NoError(t, err)
	assert.Equal(t, "20260504T030201Z", manifest.Version)
	assert.Equal(t, "20260504T030201Z/site.tar.gz", manifest.Key)
}

func TestPublisher_RequiresPrecompiledSite(t *testing.T) {
	publisher, err := NewPublisher(newMockS3Client(), Config{Bucket: "sites"}, nil)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), t.TempDir(), "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a precompiled site")
}

func TestPublisher_CreatesBucket(t *testing.T) {
	api := newMockS3Client()
	api.bucketExists = false
	publisher, err := NewPublisher(api, Config{Bucket: "sites", CreateBucket: true}, nil)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), precompiledSite(t), "v1")
	require.NoError(t, err)
	assert.True(t, api.created)
}

func TestPublisher_BucketRace(t *testing.T) {
	api := newMockS3Client()
	api.bucketExists = false
	api.createErr = errors.New("BucketAlreadyOwnedByYou: owned")
	publisher, err := NewPublisher(api, Config{Bucket: "sites", CreateBucket: true}, nil)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), precompiledSite(t), "v1")
	assert.NoError(t, err)
}

func TestPublisher_UploadError(t *testing.T) {
	api := newMockS3Client()
	api.putErr = errors.New("AccessDenied")
	publisher, err := NewPublisher(api, Config{Bucket: "sites"}, nil)
	require.NoError(t, err)

	_, err = publisher.Publish(context.Background(), precompiledSite(t), "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}
