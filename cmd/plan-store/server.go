package main

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/examples/AI/planexec/pkg/blobs"
	"k8s.io/klog/v2"
)

// httpServer serves GET /<sha256> from the blob cache, filling misses from
// the cache's upstream.
type httpServer struct {
	cache *blobs.Cache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if tokens[0] == "healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			s.serveGETBlob(w, r, tokens[0])
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETBlob(w http.ResponseWriter, r *http.Request, hash string) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	info := blobs.BlobInfo{Hash: hash}
	if err := info.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := s.cache.Open(ctx, info)
	if err != nil {
		st := blobStatus(err)
		if st.Code() == codes.NotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob", "hash", hash, "code", st.Code())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	p := f.Name()

	log.V(2).Info("serving blob", "path", p)
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeFile(w, r, p)
}

// blobStatus classifies cache errors the way the blob readers report them.
func blobStatus(err error) *status.Status {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, blobs.ErrHashMismatch):
		return status.New(codes.DataLoss, err.Error())
	default:
		return status.New(codes.Internal, err.Error())
	}
}
