package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/federated"
	"github.com/medorby/medorby/internal/hospital"
)

// FederatedHandlers serves the federated learning endpoints.
type FederatedHandlers struct {
	aggregator *federated.Aggregator
	hospital   *hospital.Store
	minClients int
	noiseLevel float64
}

// NewFederatedHandlers creates federated learning handlers
func NewFederatedHandlers(aggregator *federated.Aggregator, hospitalStore *hospital.Store, minClients int, noiseLevel float64) *FederatedHandlers {
	return &FederatedHandlers{
		aggregator: aggregator,
		hospital:   hospitalStore,
		minClients: minClients,
		noiseLevel: noiseLevel,
	}
}

type federatedUpdateRequest struct {
	ClientID  string    `json:"client_id"`
	Gradients []float64 `json:"gradients"`
}

type federatedUpdateResponse struct {
	federated.Receipt
	Aggregation *federated.Aggregation `json:"aggregation,omitempty"`
}

// HandleUpdate accepts one client's DP-noised adapter delta, logs the
// contribution, and triggers aggregation once enough updates are buffered.
func (h *FederatedHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req federatedUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON.")
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, http.StatusBadRequest, "missing_client_id", "client_id is required.")
		return
	}

	receipt, err := h.aggregator.Receive(req.ClientID, req.Gradients)
	if err != nil {
		if errors.Is(err, federated.ErrWrongDimension) {
			writeError(w, http.StatusBadRequest, "wrong_dimension",
				"The update does not match the expected adapter dimension.")
			return
		}
		log.Error().Err(err).Str("client_id", req.ClientID).Msg("Failed to accept federated update")
		writeError(w, http.StatusInternalServerError, "update_failed", "The update could not be accepted.")
		return
	}

	// Best-effort; the update is already buffered.
	if _, err := h.hospital.LogContribution("", gradientHash(req.Gradients), h.noiseLevel, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to log federated contribution")
	}

	response := federatedUpdateResponse{Receipt: receipt}

	aggregation, err := h.aggregator.MaybeAggregate(h.minClients)
	if err != nil {
		log.Error().Err(err).Msg("Federated aggregation failed")
		writeError(w, http.StatusInternalServerError, "aggregation_failed",
			"The aggregation round could not be completed.")
		return
	}
	if aggregation != nil {
		response.Aggregation = aggregation
		if _, err := h.hospital.MarkContributionsAggregated(aggregation.Version); err != nil {
			log.Warn().Err(err).Int("version", aggregation.Version).Msg("Failed to mark contributions aggregated")
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleAdapter returns the latest global adapter weights for download.
func (h *FederatedHandlers) HandleAdapter(w http.ResponseWriter, r *http.Request) {
	adapter, err := h.aggregator.Latest()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load latest adapter")
		writeError(w, http.StatusInternalServerError, "adapter_unavailable",
			"The global adapter could not be loaded.")
		return
	}
	if adapter == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "no_adapter",
			"message": "No global adapter available yet.",
		})
		return
	}
	writeJSON(w, http.StatusOK, adapter)
}

// HandleStatus returns the aggregator snapshot.
func (h *FederatedHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.aggregator.Status())
}

// gradientHash fingerprints an update for the contribution log without
// retaining the raw gradients. Only the first 10 coordinates participate.
func gradientHash(gradients []float64) string {
	head := gradients
	if len(head) > 10 {
		head = head[:10]
	}
	data, err := json.Marshal(head)
	if err != nil {
		data = []byte("[]")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
