package upload

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrialDir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte("{\"training_iteration\":1}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "checkpoint_1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint_1", "model.bin"), []byte("weights"), 0o644))
	return dir
}

// readArchive returns the regular files of a .tar.zst archive with their content.
func readArchive(t *testing.T, r io.Reader) map[string]string {
	zr, err := zstd.NewReader(r)
	require.NoError(t, err)
	defer zr.Close()

	files := map[string]string{}
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if header.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			files[header.Name] = string(content)
		}
	}
	return files
}

func TestArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Archive(&buf, writeTrialDir(t)))

	assert.Equal(t, map[string]string{
		"result.json":            "{\"training_iteration\":1}\n",
		"checkpoint_1/model.bin": "weights",
	}, readArchive(t, &buf))
}

func TestArchiveMissingDir(t *testing.T) {
	err := Archive(io.Discard, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "failed to archive")
}

func TestNewSelectsUploader(t *testing.T) {
	uploader, err := New(context.Background(), "file:///data/uploads")
	require.NoError(t, err)
	assert.Equal(t, &DirUploader{Dir: "/data/uploads"}, uploader)

	uploader, err = New(context.Background(), "/data/uploads")
	require.NoError(t, err)
	assert.Equal(t, &DirUploader{Dir: "/data/uploads"}, uploader)

	_, err = New(context.Background(), "gs://bucket/prefix")
	assert.EqualError(t, err, "unsupported upload destination 'gs://bucket/prefix'")

	_, err = New(context.Background(), "s3:///prefix")
	assert.EqualError(t, err, "invalid upload destination 's3:///prefix': bucket is required")
}

func TestDirUploader(t *testing.T) {
	target := t.TempDir()
	uploader := &DirUploader{Dir: target}

	require.NoError(t, uploader.Upload(context.Background(), writeTrialDir(t), "default/train_0_abcd1234"))

	f, err := os.Open(filepath.Join(target, "default", "train_0_abcd1234.tar.zst"))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, readArchive(t, f), "result.json")
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Uploader(t *testing.T) {
	client := &fakeS3{}
	uploader := NewS3Uploader(client, "results", "/tune/runs/")

	require.NoError(t, uploader.Upload(context.Background(), writeTrialDir(t), "default/train_0_abcd1234"))

	require.Len(t, client.inputs, 1)
	assert.Equal(t, "results", aws.ToString(client.inputs[0].Bucket))
	assert.Equal(t, "tune/runs/default/train_0_abcd1234.tar.zst", aws.ToString(client.inputs[0].Key))
	assert.Contains(t, readArchive(t, bytes.NewReader(client.bodies[0])), "checkpoint_1/model.bin")
}

func TestS3UploaderError(t *testing.T) {
	uploader := NewS3Uploader(&fakeS3{err: errors.New("access denied")}, "results", "")

	err := uploader.Upload(context.Background(), writeTrialDir(t), "default/x")
	assert.EqualError(t, err, "failed to upload s3://results/default/x.tar.zst: access denied")
}
