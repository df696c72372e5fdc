package fsstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentranscribe/mpo/pkg/artifact"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return g
}

func TestPutThenGetRoundTrips(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := artifact.Key("alice", "file-1", artifact.RoleOriginal)

	result, err := g.Put(ctx, key, bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	assert.Equal(t, int64(11), result.ByteLength)

	rc, err := g.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Get(ctx, artifact.Key("alice", "missing", artifact.RoleOriginal))
	require.Error(t, err)
	assert.True(t, artifact.IsNotFound(err))
}

func TestStreamReturnsByteRange(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := artifact.Key("bob", "file-2", artifact.RoleOriginal)

	_, err := g.Put(ctx, key, bytes.NewReader([]byte("0123456789")))
	require.NoError(t, err)

	rc, err := g.Stream(ctx, key, 3, 4)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got))
}

func TestPutOverwritesExistingKey(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := artifact.Key("carol", "file-3", artifact.RoleOriginal)

	_, err := g.Put(ctx, key, bytes.NewReader([]byte("initial")))
	require.NoError(t, err)
	_, err = g.Put(ctx, key, bytes.NewReader([]byte("updated")))
	require.NoError(t, err)

	rc, err := g.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(got))
}

func TestDeleteRemovesKey(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := artifact.Key("dave", "file-4", artifact.RoleWaveform)

	_, err := g.Put(ctx, key, bytes.NewReader([]byte("waveform bytes")))
	require.NoError(t, err)

	require.NoError(t, g.Delete(ctx, key))

	_, err = g.Get(ctx, key)
	assert.True(t, artifact.IsNotFound(err))
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	err := g.Delete(ctx, artifact.Key("erin", "missing", artifact.RoleThumbnail))
	assert.NoError(t, err)
}

func TestSizeReportsByteLength(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	key := artifact.Key("frank", "file-5", artifact.RoleOriginal)

	_, err := g.Put(ctx, key, bytes.NewReader([]byte("twelve bytes")))
	require.NoError(t, err)

	size, err := g.Size(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)
}

func TestPresignGetIsUnsupported(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.PresignGet(ctx, artifact.Key("grace", "file-6", artifact.RoleOriginal), 0)
	assert.Error(t, err)
}

func TestHealthcheckPassesForExistingBasePath(t *testing.T) {
	g := newTestGateway(t)
	assert.NoError(t, g.Healthcheck(context.Background()))
}

func TestNewRejectsEmptyBasePath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
