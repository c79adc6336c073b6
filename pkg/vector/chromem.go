// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// ChromemProvider keeps the index in process memory using chromem-go, with
// optional persistence to a single gob file.
//
// Suitable for local use and small corpora. All vectors are held in RAM.
type ChromemProvider struct {
	db     *chromem.DB
	path   string
	config config.ChromemConfig
	mu     sync.RWMutex
}

// NewChromemProvider opens the index, loading it from disk when a persisted
// file exists under cfg.PersistPath.
func NewChromemProvider(cfg config.ChromemConfig) (*ChromemProvider, error) {
	p := &ChromemProvider{
		db:     chromem.NewDB(),
		config: cfg,
	}

	if cfg.PersistPath == "" {
		slog.Info("Created in-memory vector database (no persistence)")
		return p, nil
	}

	if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	p.path = filepath.Join(cfg.PersistPath, "vectors.gob")
	if cfg.Compress {
		p.path += ".gz"
	}

	if _, err := os.Stat(p.path); err == nil {
		if err := p.db.ImportFromFile(p.path, ""); err != nil {
			slog.Warn("Failed to load existing vector database, starting empty",
				"path", p.path,
				"error", err)
			p.db = chromem.NewDB()
		} else {
			slog.Info("Loaded vector database from file", "path", p.path)
		}
	} else {
		slog.Info("Created new vector database", "path", p.path)
	}

	return p, nil
}

// Vectors are always supplied by the embedder package.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	col, err := p.db.GetOrCreateCollection(collection, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("failed to get/create collection %q: %w", collection, err)
	}

	batch := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		batch = append(batch, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  meta,
			Embedding: d.Vector,
		})
	}

	if err := col.AddDocuments(ctx, batch, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after upsert", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col := p.db.GetCollection(collection, precomputedOnly)
	if col == nil || topK <= 0 {
		return []Result{}, nil
	}

	// chromem rejects queries asking for more results than it holds.
	n := min(topK, col.Count())
	if n == 0 {
		return []Result{}, nil
	}

	hits, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]any, len(h.Metadata))
		for k, v := range h.Metadata {
			meta[k] = v
		}
		out = append(out, Result{
			ID:       h.ID,
			Score:    h.Similarity,
			Content:  h.Content,
			Metadata: meta,
		})
	}
	return out, nil
}

func (p *ChromemProvider) Count(_ context.Context, collection string) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col := p.db.GetCollection(collection, precomputedOnly)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (p *ChromemProvider) DeleteCollection(_ context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after collection delete", "error", err)
	}
	return nil
}

func (p *ChromemProvider) Name() string {
	return config.VectorChromem
}

// Close flushes the index to disk when persistence is enabled.
func (p *ChromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persist()
}

// persist must be called with mu held.
func (p *ChromemProvider) persist() error {
	if p.path == "" {
		return nil
	}
	if err := p.db.ExportToFile(p.path, p.config.Compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
