package blobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/klog/v2"
)

// Cache keeps blobs in a local directory, named by hash, filling misses from
// Upstream. It is safe for concurrent use; concurrent misses for the same
// hash share one download.
type Cache struct {
	Dir string
	// Upstream may be nil, in which case misses are reported as not found.
	Upstream BlobReader

	group singleflight.Group
}

// NewCache creates dir if needed.
func NewCache(dir string, upstream BlobReader) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %q: %w", dir, err)
	}
	return &Cache{Dir: dir, Upstream: upstream}, nil
}

// Path returns the local path of the blob, downloading it on a miss. Errors
// for blobs that exist nowhere satisfy errors.Is(err, os.ErrNotExist).
func (c *Cache) Path(ctx context.Context, info BlobInfo) (string, error) {
	log := klog.FromContext(ctx)

	if err := info.Validate(); err != nil {
		return "", err
	}
	localPath := filepath.Join(c.Dir, info.Hash)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking cached blob %q: %w", info.Hash, err)
	}

	if c.Upstream == nil {
		return "", fmt.Errorf("blob %q: %w", info.Hash, os.ErrNotExist)
	}

	// The download is shared, so it must outlive any one caller's context.
	// Each caller still stops waiting when its own context is done.
	ch := c.group.DoChan(info.Hash, func() (any, error) {
		return nil, c.Upstream.Download(context.WithoutCancel(ctx), info, localPath)
	})
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for blob %q: %w", info.Hash, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("filling cache for blob %q: %w", info.Hash, res.Err)
		}
		log.V(2).Info("filled blob cache", "hash", info.Hash, "shared", res.Shared)
		return localPath, nil
	}
}

// Open returns the cached blob opened for reading.
func (c *Cache) Open(ctx context.Context, info BlobInfo) (*os.File, error) {
	p, err := c.Path(ctx, info)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// LoadPlan fetches the blob and parses it as a plan.
func (c *Cache) LoadPlan(ctx context.Context, info BlobInfo) (*plan.Plan, error) {
	p, err := c.Path(ctx, info)
	if err != nil {
		return nil, err
	}
	return plan.LoadFile(p)
}
