package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/sahayak/pkg/ingest"
)

// IngestCmd indexes a directory of scheme and GST documents.
type IngestCmd struct {
	Dir        string `arg:"" help:"Directory to index." type:"existingdir"`
	Collection string `help:"Override vector.collection."`
	Reset      bool   `help:"Drop the collection before indexing."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cleanup, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	collection := firstNonEmpty(c.Collection, cfg.Vector.Collection)

	emb, store, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
		_ = emb.Close()
	}()

	if c.Reset {
		if err := store.DeleteCollection(ctx, collection); err != nil {
			return fmt.Errorf("failed to reset collection %s: %w", collection, err)
		}
		slog.Info("Collection reset", "collection", collection)
	}

	stats, err := ingest.NewIndexer(emb, store, collection, cfg.Ingest).IngestDir(ctx, c.Dir)
	if err != nil {
		return fmt.Errorf("ingest aborted after %d files: %w", stats.Files, err)
	}

	fmt.Printf("Indexed %d files into %q (%d chunks, %d failed)\n", stats.Files, collection, stats.Chunks, stats.Failed)
	if n, err := store.Count(ctx, collection); err == nil {
		fmt.Printf("Collection now holds %d chunks\n", n)
	}
	return nil
}
