package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/examples/AI/planexec/pkg/blobs"
	"k8s.io/examples/AI/planexec/pkg/config"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/klog/v2"
)

// hashPrefix marks a plan reference that is fetched by content hash rather
// than read from a local file.
const hashPrefix = "sha256:"

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	cfg config.Config

	plannedArenaBytes sizeValue
	scratchArenaBytes sizeValue
	blobserverURL     string
	cacheDir          string
}

func newRootCommand(cfg config.Config) *cobra.Command {
	opts := &rootOptions{
		cfg:               cfg,
		plannedArenaBytes: sizeValue(cfg.PlannedArenaBytes),
		scratchArenaBytes: sizeValue(cfg.ScratchArenaBytes),
		blobserverURL:     cfg.BlobserverURL,
		cacheDir:          cfg.CacheDir,
	}

	cmd := &cobra.Command{
		Use:   "methodrun",
		Short: "Run and inspect execution plans",
		Long: "methodrun loads a serialized execution plan, binds its kernels and delegates, " +
			"and executes it against inputs given on the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.PersistentFlags().Var(&opts.plannedArenaBytes, "planned-arena", "size of each method's planned arena (accepts k, m, g suffixes)")
	cmd.PersistentFlags().Var(&opts.scratchArenaBytes, "scratch-arena", "size of each method's scratch arena (accepts k, m, g suffixes)")
	cmd.PersistentFlags().StringVar(&opts.blobserverURL, "blobserver-url", opts.blobserverURL, "plan-store base URL for plans referenced by "+hashPrefix+"<hash>")
	cmd.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", opts.cacheDir, "local cache directory for plans fetched by hash")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newPushCommand(opts))

	return cmd
}

// newMemory gives one method instance its own arenas.
func (o *rootOptions) newMemory() *memory.Manager {
	return memory.NewArenaManager(int(o.plannedArenaBytes), int(o.scratchArenaBytes))
}

// loadPlan reads a plan from a file path, or from the blob cache when ref is
// sha256:<hash>.
func (o *rootOptions) loadPlan(ctx context.Context, ref string) (*plan.Plan, error) {
	hash, byHash := strings.CutPrefix(ref, hashPrefix)
	if !byHash {
		return plan.LoadFile(ref)
	}

	cacheDir, err := config.ExpandHome(o.cacheDir)
	if err != nil {
		return nil, err
	}

	var upstream blobs.BlobReader
	if o.blobserverURL != "" {
		u, err := url.Parse(o.blobserverURL)
		if err != nil {
			return nil, fmt.Errorf("parsing blobserver url %q: %w", o.blobserverURL, err)
		}
		upstream = &blobs.PlanServer{BlobserverURL: u}
	}

	cache, err := blobs.NewCache(cacheDir, upstream)
	if err != nil {
		return nil, err
	}
	p, err := cache.LoadPlan(ctx, blobs.BlobInfo{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("loading plan %s%s: %w", hashPrefix, hash, err)
	}
	return p, nil
}

// sizeValue is a byte count flag accepting the same syntax as the
// PLANEXEC_*_ARENA_BYTES variables.
type sizeValue int

var _ pflag.Value = (*sizeValue)(nil)

func (s *sizeValue) String() string { return strconv.Itoa(int(*s)) }

func (s *sizeValue) Set(v string) error {
	n, err := config.ParseSize(v)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) Type() string { return "size" }
