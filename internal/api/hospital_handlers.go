package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/hospital"
)

const defaultRecordLimit = 20

// HospitalHandlers serves the anonymized record store endpoints.
type HospitalHandlers struct {
	store *hospital.Store
}

// NewHospitalHandlers creates hospital store handlers
func NewHospitalHandlers(store *hospital.Store) *HospitalHandlers {
	return &HospitalHandlers{store: store}
}

// HandleRecords lists recent records, optionally filtered by record_type.
func (h *HospitalHandlers) HandleRecords(w http.ResponseWriter, r *http.Request) {
	recordType := r.URL.Query().Get("record_type")

	limit := defaultRecordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer.")
			return
		}
		limit = n
	}

	records, err := h.store.Records(recordType, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list hospital records")
		writeError(w, http.StatusInternalServerError, "records_unavailable",
			"Records could not be loaded.")
		return
	}
	if records == nil {
		records = []hospital.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// HandleRecordPDF exports one record as a PDF summary document. The path is
// /api/hospital/records/{id}/pdf.
func (h *HospitalHandlers) HandleRecordPDF(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/hospital/records/")
	id, ok := strings.CutSuffix(strings.TrimSuffix(rest, "/"), "/pdf")
	if !ok || id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not_found", "Not found.")
		return
	}

	record, err := h.store.RecordByID(id)
	if err != nil {
		if errors.Is(err, hospital.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record_not_found", "Record not found.")
			return
		}
		log.Error().Err(err).Str("record_id", id).Msg("Failed to load record")
		writeError(w, http.StatusInternalServerError, "record_unavailable",
			"The record could not be loaded.")
		return
	}

	data, err := renderRecordPDF(record)
	if err != nil {
		log.Error().Err(err).Str("record_id", id).Msg("Failed to render record PDF")
		writeError(w, http.StatusInternalServerError, "pdf_failed",
			"The PDF could not be generated.")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.ID+".pdf"))
	if _, err := w.Write(data); err != nil {
		log.Debug().Err(err).Msg("Record PDF download aborted")
	}
}

// HandleStats returns store counts.
func (h *HospitalHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read hospital stats")
		writeError(w, http.StatusInternalServerError, "stats_unavailable",
			"Statistics could not be loaded.")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
