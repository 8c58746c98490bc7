package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/clindoc/internal/core"
)

// FSClient stores objects as files under root/bucket/key. It backs local
// runs and tests.
type FSClient struct {
	root string
}

var _ core.ObjectClient = (*FSClient)(nil)

func NewFSClient(root string) (*FSClient, error) {
	if root == "" {
		return nil, fmt.Errorf("STORAGE_ROOT not set")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSClient{root: abs}, nil
}

func (c *FSClient) path(bucket, key string) (string, error) {
	p := filepath.Join(c.root, bucket, filepath.FromSlash(key))
	if !strings.HasPrefix(p, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("object key escapes storage root: %q", key)
	}
	return p, nil
}

func (c *FSClient) UploadFile(ctx context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: data}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", fmt.Errorf("fs upload failed: %w", err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

func (c *FSClient) DeleteFile(_ context.Context, bucket, key string) error {
	p, err := c.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fs delete failed: %w", err)
	}
	return nil
}

func (c *FSClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := c.GetObjectReader(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ctxReader{ctx: ctx, r: r}); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *FSClient) GetObjectReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	p, err := c.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("fs get failed: %w", err)
	}
	return f, nil
}

// ParseURL maps a file:// URL under the root back to bucket and key.
func (c *FSClient) ParseURL(storageURL string) (string, string, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse storage url: %w", err)
	}
	if u.Scheme != "file" {
		return "", "", fmt.Errorf("not a file url: %q", storageURL)
	}
	rel, err := filepath.Rel(c.root, filepath.FromSlash(u.Path))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("url outside storage root: %q", storageURL)
	}
	bucket, key, ok := strings.Cut(filepath.ToSlash(rel), "/")
	if !ok {
		return "", "", fmt.Errorf("url has no object key: %q", storageURL)
	}
	return bucket, key, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
