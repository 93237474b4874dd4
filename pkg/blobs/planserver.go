package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// PlanServer downloads blobs from a plan-store server.
type PlanServer struct {
	// BlobserverURL is the base URL to the plan-store, typically http://plan-store
	BlobserverURL *url.URL

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

var _ BlobReader = &PlanServer{}

func (l *PlanServer) Download(ctx context.Context, info BlobInfo, destPath string) error {
	if err := info.Validate(); err != nil {
		return err
	}
	u := l.BlobserverURL.JoinPath(info.Hash)
	return l.downloadToFile(ctx, u.String(), info, destPath)
}

func (l *PlanServer) downloadToFile(ctx context.Context, url string, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()

	httpClient := l.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("blob not found: %w", os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}

	n, err := writeToFile(ctx, resp.Body, destPath, info)
	if err != nil {
		return fmt.Errorf("downloading from %q: %w", url, err)
	}

	log.Info("downloaded blob", "url", url, "bytes", n, "duration", time.Since(startedAt))

	return nil
}
