// Package blobs moves content-addressed plan payloads between a GCS bucket,
// the plan-store HTTP server and a local cache directory. Every blob is
// keyed by the hex sha256 of its contents and verified when it is written.
package blobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

type BlobReader interface {
	// If no such object exists, Download should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload uploads the file at sourcePath to the blobstore, using the given hash as the object key.
	// If an object with the same hash already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

type BlobInfo struct {
	// Hash is the lowercase hex sha256 of the blob.
	Hash string
}

// ErrHashMismatch is returned (wrapped) when downloaded content does not hash to BlobInfo.Hash.
var ErrHashMismatch = errors.New("blob hash mismatch")

// Validate checks that Hash looks like a sha256 digest, so it is safe to use
// as a file name and an object key.
func (i BlobInfo) Validate() error {
	if len(i.Hash) != sha256.Size*2 {
		return fmt.Errorf("blob hash %q: want %d hex characters", i.Hash, sha256.Size*2)
	}
	for _, c := range i.Hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("blob hash %q: not lowercase hex", i.Hash)
		}
	}
	return nil
}

// HashFile returns the BlobInfo for the file at path.
func HashFile(path string) (BlobInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return BlobInfo{}, fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return BlobInfo{}, fmt.Errorf("hashing %q: %w", path, err)
	}
	return BlobInfo{Hash: hex.EncodeToString(h.Sum(nil))}, nil
}
