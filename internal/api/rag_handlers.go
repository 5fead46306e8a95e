package api

import (
	"net/http"

	"github.com/medorby/medorby/internal/rag"
)

const retrieveTopK = 5

// RAGHandlers serves retrieval queries against the shared engine snapshot.
type RAGHandlers struct {
	engine *rag.Engine
}

// NewRAGHandlers creates retrieval handlers
func NewRAGHandlers(engine *rag.Engine) *RAGHandlers {
	return &RAGHandlers{engine: engine}
}

// retrieveResponse carries the matched documents with relevance scores.
type retrieveResponse struct {
	Query   string    `json:"query"`
	Results []rag.Hit `json:"results"`
	Stats   rag.Stats `json:"stats"`
}

// HandleRetrieve returns the documents matching the prompt.
func (h *RAGHandlers) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSymptomRequest(w, r)
	if !ok {
		return
	}

	results := h.engine.Retrieve(req.SanitizedPrompt, retrieveTopK)
	if results == nil {
		results = []rag.Hit{}
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		Query:   truncateRunes(req.SanitizedPrompt, 200),
		Results: results,
		Stats:   h.engine.Stats(),
	})
}

// HandleStats returns engine statistics.
func (h *RAGHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}
