package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"k8s.io/examples/AI/planexec/pkg/blobs"
	"k8s.io/examples/AI/planexec/pkg/config"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	klog.InitFlags(nil)
	listen := cfg.ListenAddr
	cacheDir := cfg.CacheDir
	cacheBucket := cfg.CacheBucket
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	flag.StringVar(&cacheBucket, "cache-bucket", cacheBucket, "GCS bucket (gs://<bucket>[/prefix]) that backs the cache")
	flag.Parse()

	cacheDir, err = config.ExpandHome(cacheDir)
	if err != nil {
		return err
	}

	if cacheBucket == "" {
		return fmt.Errorf("must specify --cache-bucket or PLANEXEC_CACHE_BUCKET")
	}
	bucket, prefix, err := config.ParseBucketURL(cacheBucket)
	if err != nil {
		return err
	}
	log.Info("using GCS cache", "bucket", bucket, "prefix", prefix)

	cache, err := blobs.NewCache(cacheDir, &blobs.GCSBlobstore{Bucket: bucket, Prefix: prefix})
	if err != nil {
		return err
	}

	s := &httpServer{cache: cache}

	log.Info("serving", "addr", listen, "cacheDir", cacheDir)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}
