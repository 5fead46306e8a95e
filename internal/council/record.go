package council

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawCap bounds the unparsed-text fallback kept on a record.
const rawCap = 300

// MemberRecord is one diverger's parsed response. When Parsed is false the
// model's output was not a JSON object; Raw holds its first characters (or
// nothing, when the model returned an empty string).
type MemberRecord struct {
	Parsed        bool
	Differentials []string
	NextSteps     []string
	Confidence    float64
	RedFlag       bool
	Raw           string
}

// MarshalJSON emits the wire shape consumed by clients: the clinical keys
// for a parsed record, {"raw": ...} for an unparsed one, {} for an empty
// response.
func (r MemberRecord) MarshalJSON() ([]byte, error) {
	if !r.Parsed {
		if r.Raw == "" {
			return []byte("{}"), nil
		}
		return json.Marshal(struct {
			Raw string `json:"raw"`
		}{Raw: r.Raw})
	}
	return json.Marshal(struct {
		Differentials []string `json:"differentials"`
		NextSteps     []string `json:"next_steps"`
		Confidence    float64  `json:"confidence"`
		RedFlag       bool     `json:"red_flag"`
	}{
		Differentials: emptyIfNil(r.Differentials),
		NextSteps:     emptyIfNil(r.NextSteps),
		Confidence:    r.Confidence,
		RedFlag:       r.RedFlag,
	})
}

// Summary renders the compact one-line form used in the peer-review prompt.
func (r MemberRecord) Summary() string {
	if !r.Parsed {
		return "Differentials: none | Confidence: ? | RedFlag: false"
	}
	diffs := r.Differentials
	if len(diffs) > 3 {
		diffs = diffs[:3]
	}
	joined := strings.Join(diffs, ", ")
	if joined == "" {
		joined = "none"
	}
	return fmt.Sprintf("Differentials: %s | Confidence: %v | RedFlag: %v", joined, r.Confidence, r.RedFlag)
}

// PeerReview is the convergence verdict: letters in descending quality plus
// the reviewer's reasoning.
type PeerReview struct {
	Ranking   []string `json:"ranking"`
	Reasoning string   `json:"reasoning"`
}

// Synthesis is the chairman's final answer. Parsed and Raw follow the same
// convention as MemberRecord.
type Synthesis struct {
	Parsed        bool
	Differentials []string
	NextSteps     []string
	Confidence    float64
	RedFlag       bool
	Summary       string
	Raw           string
}

func (s Synthesis) MarshalJSON() ([]byte, error) {
	if !s.Parsed {
		if s.Raw == "" {
			return []byte("{}"), nil
		}
		return json.Marshal(struct {
			Raw string `json:"raw"`
		}{Raw: s.Raw})
	}
	return json.Marshal(struct {
		Differentials []string `json:"final_differentials"`
		NextSteps     []string `json:"recommended_next_steps"`
		Confidence    float64  `json:"confidence"`
		RedFlag       bool     `json:"red_flag"`
		Summary       string   `json:"summary"`
	}{
		Differentials: emptyIfNil(s.Differentials),
		NextSteps:     emptyIfNil(s.NextSteps),
		Confidence:    s.Confidence,
		RedFlag:       s.RedFlag,
		Summary:       s.Summary,
	})
}

// ParseMemberRecord extracts the first top-level JSON object from a model
// response. An empty response yields an empty record; anything that fails to
// parse yields an unparsed record carrying the first characters of the text.
func ParseMemberRecord(text string) MemberRecord {
	if text == "" {
		return MemberRecord{}
	}
	if body, ok := extractObject(text); ok {
		var w struct {
			Differentials []string `json:"differentials"`
			NextSteps     []string `json:"next_steps"`
			Confidence    float64  `json:"confidence"`
			RedFlag       bool     `json:"red_flag"`
		}
		if err := json.Unmarshal([]byte(body), &w); err == nil {
			return MemberRecord{
				Parsed:        true,
				Differentials: w.Differentials,
				NextSteps:     w.NextSteps,
				Confidence:    w.Confidence,
				RedFlag:       w.RedFlag,
			}
		}
	}
	return MemberRecord{Raw: truncate(text, rawCap)}
}

// ParseSynthesis does the same extraction for the chairman's response.
func ParseSynthesis(text string) Synthesis {
	if text == "" {
		return Synthesis{}
	}
	if body, ok := extractObject(text); ok {
		var w struct {
			Differentials []string `json:"final_differentials"`
			NextSteps     []string `json:"recommended_next_steps"`
			Confidence    float64  `json:"confidence"`
			RedFlag       bool     `json:"red_flag"`
			Summary       string   `json:"summary"`
		}
		if err := json.Unmarshal([]byte(body), &w); err == nil {
			return Synthesis{
				Parsed:        true,
				Differentials: w.Differentials,
				NextSteps:     w.NextSteps,
				Confidence:    w.Confidence,
				RedFlag:       w.RedFlag,
				Summary:       w.Summary,
			}
		}
	}
	return Synthesis{Raw: truncate(text, rawCap)}
}

func parsePeerReview(text string) PeerReview {
	body, ok := extractObject(text)
	if !ok {
		return PeerReview{}
	}
	var pr PeerReview
	if err := json.Unmarshal([]byte(body), &pr); err != nil {
		return PeerReview{}
	}
	return pr
}

// extractObject returns the substring spanning the first "{" through the
// last "}" of text.
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start == -1 {
		return "", false
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", false
	}
	return text[start : end+1], true
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
