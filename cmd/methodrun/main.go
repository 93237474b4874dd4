package main

import (
	"context"
	"fmt"
	"os"

	"k8s.io/examples/AI/planexec/pkg/config"
	_ "k8s.io/examples/AI/planexec/pkg/engine/fallback"
	_ "k8s.io/examples/AI/planexec/pkg/engine/wasm"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return newRootCommand(cfg).ExecuteContext(ctx)
}
