package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// TestLocalStorage 测试本地存储实现
func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	var saved FileInfo
	t.Run("Save", func(t *testing.T) {
		saved, err = s.Save(ctx, bytes.NewBufferString("MASTER SERVICES AGREEMENT"), "MSA.PDF")
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.Equal(t, "MSA.PDF", saved.Name)
		assert.Equal(t, "contracts/"+saved.ID+".pdf", saved.Key)
		assert.Equal(t, "application/pdf", saved.MimeType)
		assert.Equal(t, int64(len("MASTER SERVICES AGREEMENT")), saved.Size)

		_, err := os.Stat(filepath.Join(s.basePath, "contracts", saved.ID+".pdf"))
		assert.NoError(t, err)
	})

	t.Run("Get", func(t *testing.T) {
		r, err := s.Get(ctx, saved.Key)
		require.NoError(t, err)
		assert.Equal(t, "MASTER SERVICES AGREEMENT", readAll(t, r))

		_, err = s.Get(ctx, "contracts/missing.pdf")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Put overwrites", func(t *testing.T) {
		key := ReportKey("c-1", "report.json")
		_, err := s.Put(ctx, key, strings.NewReader(`{"v":1}`))
		require.NoError(t, err)
		info, err := s.Put(ctx, key, strings.NewReader(`{"v":2}`))
		require.NoError(t, err)
		assert.Equal(t, "reports/c-1/report.json", info.Key)
		assert.Equal(t, "application/json", info.MimeType)

		r, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, readAll(t, r))
	})

	t.Run("List by prefix", func(t *testing.T) {
		files, err := s.List(ctx, ReportPrefix)
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "reports/c-1/report.json", files[0].Key)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		none, err := s.List(ctx, "nothing-here")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Keys cannot escape the root", func(t *testing.T) {
		info, err := s.Put(ctx, "../../escape.txt", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, "escape.txt", info.Key)
		_, err = os.Stat(filepath.Join(s.basePath, "escape.txt"))
		assert.NoError(t, err)
	})

	t.Run("Delete and Exists", func(t *testing.T) {
		ok, err := s.Exists(ctx, saved.Key)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, saved.Key))
		ok, err = s.Exists(ctx, saved.Key)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.True(t, errors.Is(s.Delete(ctx, saved.Key), ErrNotFound))
	})
}

func TestNewStorage(t *testing.T) {
	s, err := New(Config{Type: "local", Local: LocalConfig{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Type: "s3"})
	assert.Error(t, err)
}

// TestMinioStorage 需要本地MinIO服务
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	ctx := context.Background()
	s, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_TEST_SECRET_KEY"),
		Bucket:    "contract-auditor-test",
	})
	require.NoError(t, err)

	info, err := s.Save(ctx, strings.NewReader("contract"), "c.txt")
	require.NoError(t, err)
	r, err := s.Get(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, "contract", readAll(t, r))
	require.NoError(t, s.Delete(ctx, info.Key))
	ok, err := s.Exists(ctx, info.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}
