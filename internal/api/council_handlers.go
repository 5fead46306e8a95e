package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/council"
)

// CouncilHandlers streams staged deliberations over SSE and WebSocket.
type CouncilHandlers struct {
	council  *council.Orchestrator
	upgrader websocket.Upgrader
}

// NewCouncilHandlers creates council streaming handlers
func NewCouncilHandlers(orch *council.Orchestrator, origins []string) *CouncilHandlers {
	return &CouncilHandlers{
		council: orch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return originAllowed(origins, origin)
			},
		},
	}
}

// HandleCouncil streams the deliberation as SSE events. The client is
// expected to have called /api/triage first; this endpoint assumes no
// emergency.
func (h *CouncilHandlers) HandleCouncil(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSymptomRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported",
			"Streaming is not supported on this connection.")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// The stream outlives any server write timeout; clear the deadlines for
	// this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn().Err(err).Msg("Failed to clear write deadline for SSE")
	}
	if err := rc.SetReadDeadline(time.Time{}); err != nil {
		log.Warn().Err(err).Msg("Failed to clear read deadline for SSE")
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for event := range h.council.Run(ctx, req.SanitizedPrompt) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("stage", event.Stage).Msg("Failed to encode council event")
			continue
		}
		if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
			log.Debug().Err(err).Msg("Council SSE client disconnected")
			cancel()
			break
		}
		flusher.Flush()
	}
}

// HandleCouncilWS mirrors the SSE stream over a WebSocket for clients that
// cannot consume SSE. The prompt arrives as the "prompt" query parameter.
func (h *CouncilHandlers) HandleCouncilWS(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	if !validatePrompt(w, prompt) {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade council WebSocket")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only serve to detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range h.council.Run(ctx, prompt) {
		if err := conn.WriteJSON(event); err != nil {
			log.Debug().Err(err).Msg("Council WebSocket client disconnected")
			cancel()
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
