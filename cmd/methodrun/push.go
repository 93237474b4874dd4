package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"k8s.io/examples/AI/planexec/pkg/blobs"
	"k8s.io/examples/AI/planexec/pkg/config"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/klog/v2"
)

type pushOptions struct {
	*rootOptions

	bucket string
}

func newPushCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &pushOptions{
		rootOptions: rootOpts,
		bucket:      rootOpts.cfg.CacheBucket,
	}

	cmd := &cobra.Command{
		Use:   "push <plan.yaml>",
		Short: "Upload a plan to the bucket behind plan-store",
		Long: `Validate a plan file and upload it to GCS under its sha256 hash. The printed
reference can be passed to run and inspect once plan-store serves the bucket.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().StringVar(&opts.bucket, "bucket", opts.bucket, "destination, as gs://<bucket>[/prefix]")

	return cmd
}

func (o *pushOptions) run(ctx context.Context, out io.Writer, path string) error {
	log := klog.FromContext(ctx)

	if o.bucket == "" {
		return fmt.Errorf("must specify --bucket or PLANEXEC_CACHE_BUCKET")
	}
	bucket, prefix, err := config.ParseBucketURL(o.bucket)
	if err != nil {
		return err
	}

	if _, err := plan.LoadFile(path); err != nil {
		return err
	}
	info, err := blobs.HashFile(path)
	if err != nil {
		return err
	}

	store := &blobs.GCSBlobstore{Bucket: bucket, Prefix: prefix}
	if err := store.Upload(ctx, path, info); err != nil {
		return fmt.Errorf("uploading %q: %w", path, err)
	}
	log.Info("pushed plan", "path", path, "bucket", bucket, "prefix", prefix, "hash", info.Hash)

	fmt.Fprintf(out, "%s%s\n", hashPrefix, info.Hash)
	return nil
}
