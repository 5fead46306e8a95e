// Package rag provides retrieval-augmented context over a mixed corpus of
// curated medical knowledge and user-uploaded reports, using TF-IDF vectors
// and cosine similarity.
package rag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMaxFeatures is the retrieval vocabulary cap.
const DefaultMaxFeatures = 4096

// DefaultTopK is the retrieval depth when the caller does not specify one.
const DefaultTopK = 5

// DocumentSource supplies additional documents at index build time. The
// report store implements it.
type DocumentSource interface {
	Documents() []Document
}

// Stats describes the current index snapshot.
type Stats struct {
	TotalDocuments     int  `json:"total_documents"`
	KnowledgeBaseCount int  `json:"knowledge_base_count"`
	UserReportCount    int  `json:"user_report_count"`
	IndexBuilt         bool `json:"index_built"`
	VectorDim          int  `json:"vector_dim"`
}

// Engine owns the document index. Queries read an immutable snapshot;
// Rebuild constructs the next snapshot off to the side and swaps it in.
type Engine struct {
	knowledgeDir string
	maxFeatures  int
	sources      []DocumentSource
	logger       zerolog.Logger

	mu    sync.RWMutex
	index *Index
}

// NewEngine creates an engine over the given knowledge directory and extra
// document sources. The index is empty until the first Rebuild.
func NewEngine(knowledgeDir string, sources ...DocumentSource) *Engine {
	return &Engine{
		knowledgeDir: knowledgeDir,
		maxFeatures:  DefaultMaxFeatures,
		sources:      sources,
		logger:       log.With().Str("component", "rag").Logger(),
		index:        BuildIndex(nil, DefaultMaxFeatures),
	}
}

// Rebuild loads the current document set and atomically installs a fresh
// index. Readers holding the previous snapshot are unaffected.
func (e *Engine) Rebuild() {
	docs := e.loadKnowledge()
	for _, src := range e.sources {
		docs = append(docs, src.Documents()...)
	}

	ix := BuildIndex(docs, e.maxFeatures)

	e.mu.Lock()
	e.index = ix
	e.mu.Unlock()

	e.logger.Info().
		Int("documents", ix.Len()).
		Bool("built", ix.Built()).
		Msg("Rebuilt retrieval index")
}

func (e *Engine) snapshot() *Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// Retrieve returns the top-k hits for the query against the current
// snapshot. An empty corpus or an out-of-vocabulary query yields no hits.
func (e *Engine) Retrieve(query string, topK int) []Hit {
	return e.snapshot().Search(query, topK)
}

// ContextForPrompt retrieves the top-k hits and formats them as the context
// block appended to council prompts. Returns "" when nothing was retrieved.
func (e *Engine) ContextForPrompt(query string, topK int) string {
	hits := e.Retrieve(query, topK)
	if len(hits) == 0 {
		return ""
	}

	parts := make([]string, 0, len(hits))
	for i, hit := range hits {
		label := "Medical Knowledge"
		if hit.Type == TypeUserReport {
			label = "Patient Report"
		}
		parts = append(parts, fmt.Sprintf("[%s %d] %s (Source: %s, Relevance: %.2f)\n%s",
			label, i+1, hit.Topic, hit.Source, hit.Score, truncate(hit.Content, 500)))
	}

	return "\n\n--- RETRIEVED MEDICAL CONTEXT (RAG) ---\n" +
		strings.Join(parts, "\n\n") +
		"\n--- END CONTEXT ---\n"
}

// Stats reports corpus composition for the current snapshot.
func (e *Engine) Stats() Stats {
	ix := e.snapshot()

	stats := Stats{
		TotalDocuments: ix.Len(),
		IndexBuilt:     ix.Built(),
	}
	if ix.Built() {
		stats.VectorDim = e.maxFeatures
	}
	for _, doc := range ix.docs {
		switch doc.Type {
		case TypeKnowledgeBase:
			stats.KnowledgeBaseCount++
		case TypeUserReport:
			stats.UserReportCount++
		}
	}
	return stats
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
