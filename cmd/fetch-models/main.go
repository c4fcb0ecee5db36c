package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/swapflow/internal/config"
	"github.com/dunamismax/swapflow/internal/models"
	"github.com/spf13/pflag"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[fetch-models] ", log.LstdFlags|log.Lmsgprefix)

	dir := cfg.Models.Dir
	concurrency := cfg.Models.Concurrency
	urls := models.DefaultURLs

	pflag.CommandLine.StringVar(&dir, "dir", dir, "directory the facefusion CLI loads model weights from")
	pflag.CommandLine.IntVar(&concurrency, "probe-concurrency", concurrency, "number of concurrent size probes")
	pflag.CommandLine.StringSliceVar(&urls, "url", urls, "model url to fetch (repeatable)")
	pflag.Parse()

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.Printf("FLAG: --%s=%q", f.Name, f.Value)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := models.NewFetcher(logger, models.Config{Dir: dir, Concurrency: concurrency})
	if err != nil {
		logger.Fatalf("fetcher init failed: %v", err)
	}

	reports, err := fetcher.Fetch(ctx, urls)
	if err != nil {
		logger.Fatalf("fetch failed after %d files: %v", len(reports), err)
	}
	logger.Printf("models ready dir=%s files=%d", dir, len(reports))
}
