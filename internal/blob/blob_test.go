package blob

import (
	"context"
	"io/fs"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
)

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("6f1c2a3e-1111-4222-8333-444455556666")
	assert.Equal(t, "acme/6f1c2a3e-1111-4222-8333-444455556666.pdf", ObjectName("acme", id, "Invoice 12.PDF"))
	assert.Equal(t, "a_b/6f1c2a3e-1111-4222-8333-444455556666", ObjectName("a/b", id, "noext"))
	assert.Equal(t, "_/6f1c2a3e-1111-4222-8333-444455556666.png", ObjectName("", id, "x.png"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "acme/doc.pdf", []byte("first"), "application/pdf"))
	// existing object is kept
	require.NoError(t, s.Put(ctx, "acme/doc.pdf", []byte("second"), "application/pdf"))

	got, err := s.Read("acme/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	u, err := s.URL(ctx, "acme/doc.pdf")
	require.NoError(t, err)
	assert.Empty(t, u)

	require.NoError(t, s.Delete(ctx, "acme/doc.pdf"))
	require.NoError(t, s.Delete(ctx, "acme/doc.pdf"))
	_, err = s.Read("acme/doc.pdf")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLocalStoreRejectsEscapingNames(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../outside", []byte("x"), ""))
	assert.Error(t, s.Put(context.Background(), "/etc/passwd", []byte("x"), ""))
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), common.BlobConfig{Backend: "s3"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	s, err := New(context.Background(), common.BlobConfig{Backend: "local", LocalDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
}
