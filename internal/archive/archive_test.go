package archive

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{Dir: t.TempDir(), BaseURL: "https://files.compliscope.test/"}, nil)
	require.NoError(t, err)
	return s
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := "exports/alice/report.pdf"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("%PDF-1.3"), PutOptions{}))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3", string(body))
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "application/pdf", info.ContentType)

	u, err := s.URL(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "https://files.compliscope.test/exports/alice/report.pdf", u)
}

func TestLocalStorage_Overwrite(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "a.csv", strings.NewReader("one"), PutOptions{}))
	err := s.Put(ctx, "a.csv", strings.NewReader("two"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "a.csv", strings.NewReader("two"), PutOptions{Overwrite: true}))
	rc, _, err := s.Get(ctx, "a.csv")
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(body))
}

func TestLocalStorage_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "x/y.pdf", strings.NewReader("x"), PutOptions{}))
	require.NoError(t, s.Delete(ctx, "x/y.pdf"))
	require.NoError(t, s.Delete(ctx, "x/y.pdf"))

	_, _, err := s.Get(ctx, "x/y.pdf")
	assert.True(t, IsNotFound(err))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Get", se.Op)
}

func TestValidateKey(t *testing.T) {
	s := newLocal(t)
	for _, key := range []string{"", "/etc/passwd", "../secret", "a/../../b", "a//b", "./a"} {
		t.Run(key, func(t *testing.T) {
			err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{})
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestExportKey(t *testing.T) {
	at := time.Date(2024, 6, 3, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	key := ExportKey("user@acme.test", "Vendor DPA (v2).pdf", at)
	assert.Equal(t, "exports/user_acme.test/20240603T073000/Vendor_DPA__v2_.pdf", key)
	assert.NoError(t, validateKey(key))

	assert.Equal(t, "exports/_/20240603T073000/_", ExportKey("..", "", at))
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "ftp"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)

	s, err := New(context.Background(), Config{Local: LocalConfig{Dir: t.TempDir()}}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)
}
