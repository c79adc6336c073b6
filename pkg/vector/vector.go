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

// Package vector stores embedded knowledge-base chunks and answers
// nearest-neighbour queries over them.
//
// Three backends are available: chromem (embedded, optional file
// persistence), Qdrant and Pinecone. Scores are cosine similarities where
// higher means more similar.
package vector

import "context"

// MetaContent is the payload key holding chunk text on backends that have
// no dedicated content field.
const MetaContent = "content"

// Document is a chunk with its pre-computed embedding.
type Document struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Result is a single search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider is a similarity index.
type Provider interface {
	// Upsert adds or replaces documents, creating the collection on first use.
	Upsert(ctx context.Context, collection string, docs []Document) error

	// Search returns at most topK hits ordered by descending score. A missing
	// or empty collection yields no hits and no error.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// Count reports how many documents a collection holds.
	Count(ctx context.Context, collection string) (int, error)

	DeleteCollection(ctx context.Context, collection string) error

	Name() string
	Close() error
}
