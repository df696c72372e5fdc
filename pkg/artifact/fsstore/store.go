// Package fsstore provides a local filesystem-backed artifact.Gateway,
// intended for development and single-node deployments.
package fsstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opentranscribe/mpo/pkg/artifact"
	"github.com/opentranscribe/mpo/pkg/bufpool"
)

// Gateway stores artifacts as files under BasePath, mirroring the key's
// owner/file_uuid/role path segments.
type Gateway struct {
	basePath string
}

// New creates a Gateway rooted at basePath, creating it if necessary.
func New(basePath string) (*Gateway, error) {
	if basePath == "" {
		return nil, errors.New("fsstore: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Gateway{basePath: basePath}, nil
}

func (g *Gateway) path(key string) string {
	return filepath.Join(g.basePath, filepath.FromSlash(key))
}

func (g *Gateway) Put(ctx context.Context, key string, r io.Reader) (*artifact.PutResult, error) {
	path := g.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	buf := bufpool.Get(bufpool.DefaultMediumSize)
	defer bufpool.Put(buf)
	n, err := io.CopyBuffer(f, r, buf)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, artifact.NewStorageError("put", key, artifact.KindTransient, err)
	}
	return &artifact.PutResult{ByteLength: n}, nil
}

func (g *Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(g.path(key))
	if err != nil {
		return nil, artifact.NewStorageError("get", key, classify(err), err)
	}
	return f, nil
}

func (g *Gateway) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(g.path(key))
	if err != nil {
		return nil, artifact.NewStorageError("stream", key, classify(err), err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, artifact.NewStorageError("stream", key, artifact.KindCorrupt, err)
	}
	return &limitedReadCloser{r: io.LimitReader(f, length), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

func (g *Gateway) Delete(ctx context.Context, key string) error {
	err := os.Remove(g.path(key))
	if err != nil && !os.IsNotExist(err) {
		return artifact.NewStorageError("delete", key, classify(err), err)
	}
	return nil
}

// PresignGet has no equivalent for a local filesystem; callers must fall
// back to Get/Stream through the orchestrator.
func (g *Gateway) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", artifact.NewStorageError("presign", key, artifact.KindUnknown, errors.New("fsstore: presigning unsupported"))
}

func (g *Gateway) Size(ctx context.Context, key string) (int64, error) {
	info, err := os.Stat(g.path(key))
	if err != nil {
		return 0, artifact.NewStorageError("size", key, classify(err), err)
	}
	return info.Size(), nil
}

func (g *Gateway) Healthcheck(ctx context.Context) error {
	info, err := os.Stat(g.basePath)
	if err != nil {
		return artifact.NewStorageError("healthcheck", g.basePath, artifact.KindTransient, err)
	}
	if !info.IsDir() {
		return artifact.NewStorageError("healthcheck", g.basePath, artifact.KindCorrupt, errors.New("base path is not a directory"))
	}
	return nil
}

func classify(err error) artifact.Kind {
	if os.IsNotExist(err) {
		return artifact.KindNotFound
	}
	if os.IsPermission(err) {
		return artifact.KindAuthDenied
	}
	return artifact.KindUnknown
}

var _ artifact.Gateway = (*Gateway)(nil)
