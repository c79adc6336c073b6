// Package ingest builds the knowledge base: it parses documents, splits them
// into overlapping chunks, embeds the chunks and upserts them into the vector
// store.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/embedder"
	"github.com/kadirpekel/sahayak/pkg/utils"
	"github.com/kadirpekel/sahayak/pkg/vector"
)

// Chunk metadata keys.
const (
	MetaSource = "source"
	MetaChunk  = "chunk"
	MetaTokens = "tokens"
)

// Stats summarises an ingest run.
type Stats struct {
	Files  int64
	Failed int64
	Chunks int64
}

// Indexer writes documents into one vector collection.
type Indexer struct {
	embedder   embedder.Embedder
	store      vector.Provider
	collection string
	splitter   *CharacterSplitter
	counter    *utils.TokenCounter
	config     config.IngestConfig
}

func NewIndexer(emb embedder.Embedder, store vector.Provider, collection string, cfg config.IngestConfig) *Indexer {
	cfg.SetDefaults()
	return &Indexer{
		embedder:   emb,
		store:      store,
		collection: collection,
		splitter:   NewCharacterSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Separator),
		counter:    utils.NewTokenCounter(cfg.TokenModel),
		config:     cfg,
	}
}

// IngestDir indexes every supported file under dir. Files that fail to parse
// or index are logged and counted; only cancellation or a walk failure aborts
// the run.
func (ix *Indexer) IngestDir(ctx context.Context, dir string) (Stats, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	slog.Info("Starting ingest", "dir", dir, "files", len(files), "collection", ix.collection)

	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.Concurrency)

	for _, path := range files {
		g.Go(func() error {
			source, err := filepath.Rel(dir, path)
			if err != nil {
				source = filepath.Base(path)
			}

			n, err := ix.IngestFile(gctx, path, filepath.ToSlash(source))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				atomic.AddInt64(&stats.Failed, 1)
				slog.Warn("Failed to ingest document", "file", path, "error", err)
				return nil
			}

			atomic.AddInt64(&stats.Files, 1)
			atomic.AddInt64(&stats.Chunks, int64(n))
			slog.Debug("Ingested document", "file", source, "chunks", n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}

	slog.Info("Ingest complete", "files", stats.Files, "failed", stats.Failed, "chunks", stats.Chunks)
	return stats, nil
}

// IngestFile indexes a single file under the given source label and returns
// the number of chunks written. Chunk IDs are derived from source and chunk
// index, so re-ingesting a file overwrites its earlier chunks.
func (ix *Indexer) IngestFile(ctx context.Context, path, source string) (int, error) {
	text, err := ParseFile(ctx, path)
	if err != nil {
		return 0, err
	}
	return ix.IngestText(ctx, text, source)
}

// IngestText splits, embeds and upserts text.
func (ix *Indexer) IngestText(ctx context.Context, text, source string) (int, error) {
	chunks := ix.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	for start := 0; start < len(chunks); start += ix.config.BatchSize {
		end := min(start+ix.config.BatchSize, len(chunks))
		batch := chunks[start:end]

		vectors, err := ix.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return start, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return start, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		docs := make([]vector.Document, len(batch))
		for i, chunk := range batch {
			idx := start + i
			docs[i] = vector.Document{
				ID:      ChunkID(source, idx),
				Vector:  vectors[i],
				Content: chunk,
				Metadata: map[string]any{
					MetaSource: source,
					MetaChunk:  idx,
					MetaTokens: ix.counter.Count(chunk),
				},
			}
		}

		if err := ix.store.Upsert(ctx, ix.collection, docs); err != nil {
			return start, fmt.Errorf("failed to upsert chunks %d-%d: %w", start, end-1, err)
		}
	}

	return len(chunks), nil
}

// ChunkID is a stable UUID for the idx-th chunk of source.
func ChunkID(source string, idx int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "sahayak:%s#%d", source, idx)).String()
}
