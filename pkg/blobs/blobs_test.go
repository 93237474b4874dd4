package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const planYAML = `
name: forward
values:
  - type: int
outputs: [0]
`

func infoFor(content string) BlobInfo {
	sum := sha256.Sum256([]byte(content))
	return BlobInfo{Hash: hex.EncodeToString(sum[:])}
}

// blobServer serves blobs by hash and counts requests.
func blobServer(t *testing.T, blobs map[string]string) (*PlanServer, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, ok := blobs[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &PlanServer{BlobserverURL: u, HTTPClient: srv.Client()}, &requests
}

func TestValidate(t *testing.T) {
	assert.NoError(t, infoFor("x").Validate())
	assert.Error(t, BlobInfo{Hash: "abc"}.Validate())
	assert.Error(t, BlobInfo{Hash: strings.Repeat("G", 64)}.Validate())
	assert.Error(t, BlobInfo{Hash: "../" + strings.Repeat("a", 61)}.Validate())
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML), 0644))
	info, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, infoFor(planYAML), info)
}

func TestPlanServerDownload(t *testing.T) {
	info := infoFor(planYAML)
	server, _ := blobServer(t, map[string]string{info.Hash: planYAML})
	dest := filepath.Join(t.TempDir(), "out")

	require.NoError(t, server.Download(context.Background(), info, dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, planYAML, string(got))

	err = server.Download(context.Background(), infoFor("missing"), dest+"2")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlanServerHashMismatch(t *testing.T) {
	info := infoFor(planYAML)
	server, _ := blobServer(t, map[string]string{info.Hash: "tampered"})
	dir := t.TempDir()

	err := server.Download(context.Background(), info, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrHashMismatch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed")
}

func TestCacheFillsOnce(t *testing.T) {
	ctx := context.Background()
	info := infoFor(planYAML)
	server, requests := blobServer(t, map[string]string{info.Hash: planYAML})

	cache, err := NewCache(filepath.Join(t.TempDir(), "blobs"), server)
	require.NoError(t, err)

	p, err := cache.LoadPlan(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, "forward", p.Name)

	f, err := cache.Open(ctx, info)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, int32(1), requests.Load())

	_, err = cache.Path(ctx, infoFor("missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCacheWithoutUpstream(t *testing.T) {
	cache, err := NewCache(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = cache.Path(context.Background(), infoFor(planYAML))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = cache.Path(context.Background(), BlobInfo{Hash: "nope"})
	assert.Error(t, err)
}

// gatedReader blocks every download until release is closed.
type gatedReader struct {
	content   string
	started   chan struct{}
	release   chan struct{}
	downloads atomic.Int32
	canceled  atomic.Bool
}

func (g *gatedReader) Download(ctx context.Context, info BlobInfo, destPath string) error {
	if g.downloads.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	if ctx.Err() != nil {
		g.canceled.Store(true)
		return ctx.Err()
	}
	return os.WriteFile(destPath, []byte(g.content), 0644)
}

func TestCacheCallerCancelDoesNotAbortSharedDownload(t *testing.T) {
	info := infoFor(planYAML)
	upstream := &gatedReader{content: planYAML, started: make(chan struct{}), release: make(chan struct{})}
	cache, err := NewCache(t.TempDir(), upstream)
	require.NoError(t, err)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Path(firstCtx, info)
		firstErr <- err
	}()
	<-upstream.started

	secondPath := make(chan string, 1)
	secondErr := make(chan error, 1)
	go func() {
		p, err := cache.Path(context.Background(), info)
		secondPath <- p
		secondErr <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(upstream.release)
	require.NoError(t, <-secondErr)
	got, err := os.ReadFile(<-secondPath)
	require.NoError(t, err)
	assert.Equal(t, planYAML, string(got))
	assert.False(t, upstream.canceled.Load(), "shared download must not see the first caller's cancellation")
}
