// Package council runs the three-stage deliberation protocol: parallel
// divergence across the member models, anonymized peer review, and a final
// chairman synthesis. Callers consume an ordered event stream.
package council

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/llm"
	"github.com/medorby/medorby/internal/rag"
)

// Stages in emission order. Nothing follows StageDone or StageError.
const (
	StageClassification = "classification"
	StageRAGRetrieval   = "rag_retrieval"
	StageDivergence     = "divergence"
	StageConvergence    = "convergence"
	StageSynthesis      = "synthesis"
	StageDone           = "done"
	StageError          = "error"
)

const (
	StatusRunning  = "running"
	StatusComplete = "complete"
)

// Event is one frame of the deliberation stream.
type Event struct {
	Stage   string `json:"stage"`
	Status  string `json:"status,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// RetrievalSummary is the rag_retrieval event payload.
type RetrievalSummary struct {
	DocumentsFound int      `json:"documents_found"`
	Topics         []string `json:"topics"`
}

// Member is one council seat: a stable id and the model that fills it.
type Member struct {
	ID    string
	Model string
}

// Roster names the council membership: the parallel divergers plus the
// reviewer and chairman models.
type Roster struct {
	Divergers []Member
	Reviewer  string
	Chairman  string
}

// RosterFromModels assigns diverger ids member_a, member_b, ... in order.
func RosterFromModels(divergers []string, reviewer, chairman string) Roster {
	members := make([]Member, len(divergers))
	for i, model := range divergers {
		members[i] = Member{ID: fmt.Sprintf("member_%c", 'a'+i), Model: model}
	}
	return Roster{Divergers: members, Reviewer: reviewer, Chairman: chairman}
}

// Transport performs one chat-completion call. Implementations return a
// well-formed sentinel string on failure rather than an error, so stages
// degrade instead of aborting.
type Transport interface {
	Call(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) string
}

// ConsultationStore receives the anonymized record written after synthesis.
type ConsultationStore interface {
	StoreConsultation(category, severity, symptomsHash, councilSummary string, confidence float64, metadata map[string]any) (string, error)
}

// Orchestrator drives the council protocol over a fixed roster. Immutable
// after New; safe for concurrent runs.
type Orchestrator struct {
	classifier *classifier.Classifier
	engine     *rag.Engine
	transport  Transport
	store      ConsultationStore
	divergers  []Member
	reviewer   string
	chairman   string
	logger     zerolog.Logger
}

// New wires an orchestrator. All dependencies are required.
func New(cls *classifier.Classifier, engine *rag.Engine, transport Transport, store ConsultationStore, roster Roster) *Orchestrator {
	return &Orchestrator{
		classifier: cls,
		engine:     engine,
		transport:  transport,
		store:      store,
		divergers:  roster.Divergers,
		reviewer:   roster.Reviewer,
		chairman:   roster.Chairman,
		logger:     log.With().Str("component", "council").Logger(),
	}
}
