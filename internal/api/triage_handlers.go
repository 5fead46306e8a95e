package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/sanitize"
	"github.com/medorby/medorby/internal/triage"
)

// symptomRequest is the request body shared by the prompt-driven endpoints.
type symptomRequest struct {
	SanitizedPrompt string             `json:"sanitized_prompt"`
	Vitals          map[string]float64 `json:"vitals,omitempty"`
}

// decodeSymptomRequest parses and validates the common request body. On
// failure it writes the error response and returns ok=false.
func decodeSymptomRequest(w http.ResponseWriter, r *http.Request) (symptomRequest, bool) {
	var req symptomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON.")
		return symptomRequest{}, false
	}
	if !validatePrompt(w, req.SanitizedPrompt) {
		return symptomRequest{}, false
	}
	return req, true
}

// validatePrompt rejects empty prompts and prompts that still carry
// identifier patterns the upstream sanitizer should have removed.
func validatePrompt(w http.ResponseWriter, prompt string) bool {
	if strings.TrimSpace(prompt) == "" {
		writeError(w, http.StatusBadRequest, "empty_prompt", "sanitized_prompt cannot be empty.")
		return false
	}
	if kinds := sanitize.Detect(prompt); len(kinds) > 0 {
		log.Warn().Strs("kinds", kinds).Msg("Rejected prompt with residual identifiers")
		writeError(w, http.StatusBadRequest, "phi_detected",
			"The prompt still contains personal identifiers. Remove them and try again.")
		return false
	}
	return true
}

// TriageHandlers serves the deterministic red-flag and local classifier
// endpoints. Neither makes a model call.
type TriageHandlers struct {
	gate       *triage.Gate
	classifier *classifier.Classifier
}

// NewTriageHandlers creates triage handlers
func NewTriageHandlers(gate *triage.Gate, cls *classifier.Classifier) *TriageHandlers {
	return &TriageHandlers{gate: gate, classifier: cls}
}

// HandleTriage runs red-flag evaluation and returns the verdict immediately.
func (h *TriageHandlers) HandleTriage(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSymptomRequest(w, r)
	if !ok {
		return
	}

	verdict := h.gate.EvaluateText(req.SanitizedPrompt, req.Vitals)
	writeJSON(w, http.StatusOK, verdict)
}

// HandleClassify runs the local symptom classifier on the prompt.
func (h *TriageHandlers) HandleClassify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSymptomRequest(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.classifier.Predict(req.SanitizedPrompt))
}
