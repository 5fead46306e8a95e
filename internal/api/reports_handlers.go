package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/council"
	"github.com/medorby/medorby/internal/hospital"
	"github.com/medorby/medorby/internal/rag"
	"github.com/medorby/medorby/internal/reports"
)

const maxUploadBytes = 10 << 20 // 10MB

// ReportHandlers serves upload, listing, deletion, and analysis of medical
// reports.
type ReportHandlers struct {
	store      *reports.Store
	engine     *rag.Engine
	classifier *classifier.Classifier
	council    *council.Orchestrator
	hospital   *hospital.Store
}

// NewReportHandlers creates report handlers
func NewReportHandlers(store *reports.Store, engine *rag.Engine, cls *classifier.Classifier, orch *council.Orchestrator, hospitalStore *hospital.Store) *ReportHandlers {
	return &ReportHandlers{
		store:      store,
		engine:     engine,
		classifier: cls,
		council:    orch,
		hospital:   hospitalStore,
	}
}

// HandleUpload ingests a multipart report file (PDF, DOCX, TXT), records it
// in the hospital store, and triggers a retrieval index rebuild.
func (h *ReportHandlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+4096)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File too large. Max 10MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "A multipart form upload is required.")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "A multipart \"file\" field is required.")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "missing_filename", "No filename provided.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable_file", "The uploaded file could not be read.")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty_file", "Empty file.")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File too large. Max 10MB.")
		return
	}

	result, err := h.store.Ingest(header.Filename, data)
	if err != nil {
		log.Error().Err(err).Str("filename", header.Filename).Msg("Report ingest failed")
		writeError(w, http.StatusInternalServerError, "ingest_failed", "The report could not be stored.")
		return
	}

	// Best-effort; the upload already succeeded.
	summary := fmt.Sprintf("Uploaded report: %s (%d words)", header.Filename, result.WordCount)
	if err := h.hospital.StoreReportRecord(result.ID, "user_report", summary, map[string]any{
		"filename":   header.Filename,
		"word_count": result.WordCount,
	}); err != nil {
		log.Warn().Err(err).Str("report_id", result.ID).Msg("Failed to store report record")
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleList lists all uploaded reports without their text bodies.
func (h *ReportHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reports": h.store.List()})
}

// HandleDelete removes a report; the index rebuild follows from the store's
// change notification.
func (h *ReportHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "report_not_found", "Report not found.")
		return
	}

	existed, err := h.store.Delete(id)
	if err != nil {
		log.Error().Err(err).Str("report_id", id).Msg("Report delete failed")
		writeError(w, http.StatusInternalServerError, "delete_failed", "The report could not be deleted.")
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "report_not_found", "Report not found.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// HandleAnalyze runs classification, retrieval, and a full council
// deliberation over a stored report.
func (h *ReportHandlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/analyze/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "report_not_found", "Report not found.")
		return
	}

	text, err := h.store.Text(id)
	if err != nil {
		if !errors.Is(err, reports.ErrNotFound) {
			log.Error().Err(err).Str("report_id", id).Msg("Failed to load report text")
		}
		writeError(w, http.StatusNotFound, "report_not_found", "Report not found.")
		return
	}

	ragContext := h.engine.ContextForPrompt(truncateRunes(text, 1000), 3)
	classification := h.classifier.Predict(truncateRunes(text, 500))

	analysisPrompt := fmt.Sprintf(
		"Medical Report Analysis:\n%s\n\nClassification: %s (confidence: %v)\n%s\n\nProvide a clinical summary, key findings, risk assessment, and recommended follow-up actions based on this report.",
		truncateRunes(text, 1500), classification.Label, classification.Confidence, ragContext)

	deliberation := h.council.Deliberate(r.Context(), analysisPrompt)

	writeJSON(w, http.StatusOK, map[string]any{
		"report_id":        id,
		"classification":   classification,
		"analysis":         deliberation.Synthesis,
		"rag_context_used": ragContext != "",
	})
}
