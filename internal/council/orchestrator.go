package council

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medorby/medorby/internal/classifier"
	"github.com/medorby/medorby/internal/llm"
)

const (
	retrievalTopK = 3

	divergenceTemperature  = 0.7
	divergenceMaxTokens    = 512
	convergenceTemperature = 0.1
	convergenceMaxTokens   = 80
	synthesisTemperature   = 0.2
	synthesisMaxTokens     = 600

	// eventBuffer holds a full run's events, so the producer never blocks
	// on a slow consumer between transport calls.
	eventBuffer = 16
)

// systemPrompt is shared by every divergence member.
const systemPrompt = "You are a clinical reasoning assistant. The patient case has been de-identified. " +
	"Reply ONLY with a valid JSON object — no markdown fences, no text outside JSON. " +
	`Keys: "differentials" (list of strings), "next_steps" (list of strings), ` +
	`"confidence" (float 0-1), "red_flag" (boolean).`

const reviewerSystemPrompt = "You are a clinical peer reviewer. Output only valid JSON."

const chairmanSystemPrompt = "You are the Chairman of a medical AI council. Be concise and accurate."

// Run starts a deliberation and returns its event stream. The channel is
// closed after done or error, or once ctx is cancelled; events arrive in
// stage order and nothing follows done or error.
func (o *Orchestrator) Run(ctx context.Context, prompt string) <-chan Event {
	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().Interface("panic", r).Msg("Council deliberation aborted by panic")
				getMetrics().recordOutcome(outcomeError)
				emit(ctx, events, Event{Stage: StageError, Message: "internal error during deliberation"})
			}
		}()
		getMetrics().recordOutcome(o.run(ctx, prompt, events))
	}()
	return events
}

// Deliberation is the non-streaming result of a full run.
type Deliberation struct {
	Stage       string                  `json:"stage"`
	Divergence  map[string]MemberRecord `json:"divergence"`
	Convergence PeerReview              `json:"convergence"`
	Synthesis   Synthesis               `json:"synthesis"`
}

// Deliberate runs the three council stages without streaming or the
// classification and retrieval pre-stages. Report analysis uses it with a
// prompt it has already augmented itself; nothing is written to the
// consultation store.
func (o *Orchestrator) Deliberate(ctx context.Context, prompt string) Deliberation {
	logger := o.logger.With().Str("consultation_id", ulid.Make().String()).Logger()

	divergence := o.runDivergence(ctx, logger, prompt)
	review, revMap := o.runConvergence(ctx, logger, prompt, divergence)
	synthesis := o.runSynthesis(ctx, logger, prompt, divergence, review, revMap)

	getMetrics().recordOutcome(outcomeComplete)
	return Deliberation{
		Stage:       "complete",
		Divergence:  divergence,
		Convergence: review,
		Synthesis:   synthesis,
	}
}

func (o *Orchestrator) run(ctx context.Context, prompt string, events chan<- Event) string {
	start := time.Now()
	logger := o.logger.With().Str("consultation_id", ulid.Make().String()).Logger()
	logger.Info().Int("prompt_chars", len(prompt)).Msg("Council deliberation started")

	// Pre-stage: local classification.
	classification := o.classifier.Predict(prompt)
	if !emit(ctx, events, Event{Stage: StageClassification, Status: StatusComplete, Data: classification}) {
		return outcomeCancelled
	}

	// Pre-stage: retrieval. The context block rides along on the prompt
	// sent to the divergers.
	hits := o.engine.Retrieve(prompt, retrievalTopK)
	topics := make([]string, 0, len(hits))
	for _, hit := range hits {
		topics = append(topics, hit.Topic)
	}
	if !emit(ctx, events, Event{Stage: StageRAGRetrieval, Status: StatusComplete, Data: RetrievalSummary{DocumentsFound: len(hits), Topics: topics}}) {
		return outcomeCancelled
	}

	augmented := prompt
	if block := o.engine.ContextForPrompt(prompt, retrievalTopK); block != "" {
		augmented = prompt + "\n" + block
	}

	if !emit(ctx, events, Event{Stage: StageDivergence, Status: StatusRunning}) {
		return outcomeCancelled
	}
	divergence := o.runDivergence(ctx, logger, augmented)
	if !emit(ctx, events, Event{Stage: StageDivergence, Status: StatusComplete, Data: divergence}) {
		return outcomeCancelled
	}

	if !emit(ctx, events, Event{Stage: StageConvergence, Status: StatusRunning}) {
		return outcomeCancelled
	}
	review, revMap := o.runConvergence(ctx, logger, prompt, divergence)
	if !emit(ctx, events, Event{Stage: StageConvergence, Status: StatusComplete, Data: review}) {
		return outcomeCancelled
	}

	if !emit(ctx, events, Event{Stage: StageSynthesis, Status: StatusRunning}) {
		return outcomeCancelled
	}
	synthesis := o.runSynthesis(ctx, logger, prompt, divergence, review, revMap)
	if !emit(ctx, events, Event{Stage: StageSynthesis, Status: StatusComplete, Data: synthesis}) {
		return outcomeCancelled
	}

	o.storeConsultation(logger, prompt, classification, synthesis, len(hits))

	if !emit(ctx, events, Event{Stage: StageDone}) {
		return outcomeCancelled
	}

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Str("category", classification.Category).
		Bool("red_flag", synthesis.RedFlag).
		Msg("Council deliberation complete")
	return outcomeComplete
}

// emit delivers one event unless ctx is already done. It reports whether
// delivery happened; once it returns false the run stops producing.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// runDivergence fans out to every diverger in parallel. Each member always
// contributes a record: transport failures surface as the sentinel, which
// parses to an empty record, and unparsable text becomes a raw record.
func (o *Orchestrator) runDivergence(ctx context.Context, logger zerolog.Logger, prompt string) map[string]MemberRecord {
	start := time.Now()
	system := llm.Message{Role: "system", Content: systemPrompt}
	user := llm.Message{Role: "user", Content: prompt}

	records := make([]MemberRecord, len(o.divergers))
	var g errgroup.Group
	for i, member := range o.divergers {
		g.Go(func() error {
			text := o.transport.Call(ctx, member.Model, []llm.Message{system, user}, divergenceTemperature, divergenceMaxTokens)
			records[i] = ParseMemberRecord(text)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]MemberRecord, len(o.divergers))
	parsed := 0
	for i, member := range o.divergers {
		results[member.ID] = records[i]
		if records[i].Parsed {
			parsed++
		} else {
			getMetrics().recordParseFailure(member.ID)
		}
	}

	getMetrics().observeStage(StageDivergence, time.Since(start))
	logger.Debug().
		Int("members", len(records)).
		Int("parsed", parsed).
		Dur("elapsed", time.Since(start)).
		Msg("Divergence stage complete")
	return results
}

// runConvergence anonymizes the divergers as letters and asks the reviewer
// model for a ranking over compact summaries. It returns the review and the
// letter-to-member map used to resolve the winner.
func (o *Orchestrator) runConvergence(ctx context.Context, logger zerolog.Logger, casePrompt string, divergence map[string]MemberRecord) (PeerReview, map[string]string) {
	start := time.Now()

	letters := make([]string, len(o.divergers))
	quoted := make([]string, len(o.divergers))
	lines := make([]string, len(o.divergers))
	revMap := make(map[string]string, len(o.divergers))
	for i, member := range o.divergers {
		letter := string(rune('A' + i))
		letters[i] = letter
		quoted[i] = `"` + letter + `"`
		lines[i] = "  " + letter + ": " + divergence[member.ID].Summary()
		revMap[letter] = member.ID
	}

	reviewPrompt := fmt.Sprintf(
		"Case: %s\n\nCouncil member summaries:\n%s\n\n"+
			"Task: Rank the responses %s by clinical accuracy and reasoning quality.\n"+
			"Output ONLY this JSON (no other text):\n"+
			`{"ranking": [%s], "reasoning": "brief reason"}`,
		truncate(casePrompt, 300),
		strings.Join(lines, "\n"),
		strings.Join(letters, ", "),
		strings.Join(quoted, ", "),
	)

	text := o.transport.Call(ctx, o.reviewer, []llm.Message{
		{Role: "system", Content: reviewerSystemPrompt},
		{Role: "user", Content: reviewPrompt},
	}, convergenceTemperature, convergenceMaxTokens)

	review := parsePeerReview(text)
	if len(review.Ranking) == 0 {
		review = PeerReview{Ranking: letters, Reasoning: "default order"}
	}

	getMetrics().observeStage(StageConvergence, time.Since(start))
	logger.Debug().
		Strs("ranking", review.Ranking).
		Dur("elapsed", time.Since(start)).
		Msg("Convergence stage complete")
	return review, revMap
}

// runSynthesis sends the top-ranked record to the chairman for the final
// answer. An unknown top letter resolves to an empty record.
func (o *Orchestrator) runSynthesis(ctx context.Context, logger zerolog.Logger, casePrompt string, divergence map[string]MemberRecord, review PeerReview, revMap map[string]string) Synthesis {
	start := time.Now()

	var top MemberRecord
	if len(review.Ranking) > 0 {
		top = divergence[revMap[review.Ranking[0]]]
	} else if len(o.divergers) > 0 {
		top = divergence[o.divergers[0].ID]
	}

	topJSON, _ := json.MarshalIndent(top, "", "  ")
	rankingJSON, _ := json.Marshal(review.Ranking)

	synthesisPrompt := fmt.Sprintf(
		"Case: %s\n\nBest council response:\n%s\n\nPeer ranking: %s — Reasoning: %s\n\n"+
			"Synthesise a final clinical answer. Reply ONLY with JSON keys: "+
			`"final_differentials" (list), "recommended_next_steps" (list), `+
			`"confidence" (float 0-1), "red_flag" (boolean), "summary" (string ≤3 sentences).`,
		truncate(casePrompt, 400), topJSON, rankingJSON, review.Reasoning)

	text := o.transport.Call(ctx, o.chairman, []llm.Message{
		{Role: "system", Content: chairmanSystemPrompt},
		{Role: "user", Content: synthesisPrompt},
	}, synthesisTemperature, synthesisMaxTokens)

	synthesis := ParseSynthesis(text)
	getMetrics().observeStage(StageSynthesis, time.Since(start))
	logger.Debug().
		Bool("parsed", synthesis.Parsed).
		Bool("red_flag", synthesis.RedFlag).
		Dur("elapsed", time.Since(start)).
		Msg("Synthesis stage complete")
	return synthesis
}

// storeConsultation writes the anonymized record. Failures are logged and
// never surface to the stream.
func (o *Orchestrator) storeConsultation(logger zerolog.Logger, prompt string, cls classifier.Classification, syn Synthesis, ragDocs int) {
	sum := sha256.Sum256([]byte(prompt))
	id, err := o.store.StoreConsultation(
		cls.Category,
		cls.Severity,
		hex.EncodeToString(sum[:8]),
		truncate(syn.Summary, 500),
		syn.Confidence,
		map[string]any{
			"rag_docs_used":             ragDocs,
			"classification_confidence": cls.Confidence,
		},
	)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to store consultation record")
		return
	}
	logger.Debug().Str("record_id", id).Msg("Stored consultation record")
}
