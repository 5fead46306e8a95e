// Package triage implements the deterministic red-flag gate that
// short-circuits the deliberation pipeline on emergencies. It runs locally,
// never fails, and makes no network calls.
package triage

import (
	"sort"
	"strconv"
	"strings"
)

// Tier is the urgency level of a triage verdict.
type Tier string

const (
	TierRoutine   Tier = "routine"
	TierUrgent    Tier = "urgent"
	TierImmediate Tier = "immediate"
)

// Verdict is the terminal result of red-flag evaluation. Downstream stages
// never re-evaluate it.
type Verdict struct {
	IsEmergency    bool     `json:"is_emergency"`
	Rationale      string   `json:"rationale"`
	TriggeredRules []string `json:"triggered_rules"`
	UrgencyLevel   Tier     `json:"urgency_level"`
}

const routineRationale = "No immediate red flags detected."

// Gate evaluates symptoms and vitals against the red-flag rule set.
type Gate struct {
	immediate []string
	urgent    []string
	combos    []ComboRule
	vitals    map[string]VitalBand
}

// NewGate returns a gate with the curated clinical rule set.
func NewGate() *Gate {
	return &Gate{
		immediate: immediateRedFlags,
		urgent:    urgentFlags,
		combos:    combinationRules,
		vitals:    vitalThresholds,
	}
}

// EvaluateText evaluates a free-text symptom description.
func (g *Gate) EvaluateText(text string, vitals map[string]float64) Verdict {
	return g.Evaluate([]string{text}, vitals)
}

// Evaluate checks symptom phrases and vital signs, layer by layer:
// immediate keywords, combination rules, vital thresholds, urgent keywords.
// The first Immediate finding wins and supplies the rationale.
func (g *Gate) Evaluate(symptoms []string, vitals map[string]float64) Verdict {
	normalized := normalize(symptoms)

	if triggered := g.matchFlags(g.immediate, normalized); len(triggered) > 0 {
		return Verdict{
			IsEmergency: true,
			Rationale: "IMMEDIATE EMERGENCY: Detected critical symptoms: " + strings.Join(triggered, ", ") +
				". Seek emergency care immediately or call emergency services.",
			TriggeredRules: triggered,
			UrgencyLevel:   TierImmediate,
		}
	}

	if name, rationale, fired := g.matchCombos(normalized); fired {
		return Verdict{
			IsEmergency:    true,
			Rationale:      rationale,
			TriggeredRules: []string{name},
			UrgencyLevel:   TierImmediate,
		}
	}

	level := TierRoutine
	rationale := routineRationale
	var triggered []string

	if breaches, vitalLevel, vitalRationale := g.checkVitals(vitals); len(breaches) > 0 {
		triggered = append(triggered, breaches...)
		if vitalLevel == TierImmediate {
			return Verdict{
				IsEmergency:    true,
				Rationale:      vitalRationale,
				TriggeredRules: triggered,
				UrgencyLevel:   TierImmediate,
			}
		}
		level = TierUrgent
		rationale = vitalRationale
	}

	if urgentHits := g.matchFlags(g.urgent, normalized); len(urgentHits) > 0 {
		triggered = append(triggered, urgentHits...)
		if level != TierUrgent {
			rationale = "URGENT: Detected symptoms requiring prompt evaluation: " + strings.Join(urgentHits, ", ") +
				". Contact your healthcare provider today or visit urgent care."
		}
		level = TierUrgent
	}

	return Verdict{
		IsEmergency:    false,
		Rationale:      rationale,
		TriggeredRules: triggered,
		UrgencyLevel:   level,
	}
}

func (g *Gate) matchFlags(flags []string, symptoms []string) []string {
	var triggered []string
	for _, flag := range flags {
		for _, symptom := range symptoms {
			if strings.Contains(symptom, flag) {
				triggered = append(triggered, flag)
			}
		}
	}
	return triggered
}

func (g *Gate) matchCombos(symptoms []string) (name, rationale string, fired bool) {
	for _, rule := range g.combos {
		var matched []string
		for _, target := range rule.Symptoms {
			for _, symptom := range symptoms {
				if strings.Contains(symptom, target) {
					matched = append(matched, target)
					break
				}
			}
		}
		if len(matched) >= rule.Threshold {
			rationale := strings.ToUpper(string(rule.Level)) + ": " + rule.Rationale +
				". Matched symptoms: " + strings.Join(matched, ", ") +
				". Seek immediate medical attention."
			return rule.Name, rationale, true
		}
	}
	return "", "", false
}

func (g *Gate) checkVitals(vitals map[string]float64) (breaches []string, level Tier, rationale string) {
	if len(vitals) == 0 {
		return nil, TierRoutine, ""
	}

	immediate := false

	// Stable order keeps rationales deterministic across runs.
	for _, name := range orderedVitalNames(vitals) {
		value := vitals[name]
		band, checked := g.resolveBand(name, value)
		if !checked {
			continue
		}
		if band.value < band.band.Min || band.value > band.band.Max {
			breaches = append(breaches, name+"="+strconv.FormatFloat(value, 'f', -1, 64))
			if band.band.Level == TierImmediate {
				immediate = true
			}
		}
	}

	if len(breaches) == 0 {
		return nil, TierRoutine, ""
	}

	prefix := "URGENT"
	level = TierUrgent
	if immediate {
		prefix = "IMMEDIATE EMERGENCY"
		level = TierImmediate
	}
	rationale = prefix + ": Vital signs outside safe range: " + strings.Join(breaches, ", ") +
		". Seek medical attention."
	return breaches, level, rationale
}

type resolvedBand struct {
	band  VitalBand
	value float64
}

// resolveBand maps a vital name (or alias) to its threshold band and the
// value converted into the band's unit. Unknown names are ignored.
func (g *Gate) resolveBand(name string, value float64) (resolvedBand, bool) {
	if band, ok := g.vitals[name]; ok {
		return resolvedBand{band: band, value: value}, true
	}
	if alias, ok := vitalAliases[name]; ok {
		if band, ok := g.vitals[alias.canonical]; ok {
			if alias.convert != nil {
				value = alias.convert(value)
			}
			return resolvedBand{band: band, value: value}, true
		}
	}
	return resolvedBand{}, false
}

func orderedVitalNames(vitals map[string]float64) []string {
	names := make([]string, 0, len(vitals))
	for name := range vitals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(symptoms []string) []string {
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
