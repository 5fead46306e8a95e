package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImmediateKeywordShortCircuits(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("severe chest pain, sweating", nil)

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.True(t, verdict.IsEmergency)
	assert.Contains(t, verdict.TriggeredRules, "severe chest pain")
	assert.Contains(t, verdict.Rationale, "IMMEDIATE EMERGENCY")
}

func TestImmediateKeywordsCaseInsensitive(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("  SUDDEN Severe Headache since this morning ", nil)

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.Contains(t, verdict.TriggeredRules, "sudden severe headache")
}

func TestCombinationRuleCardiacRisk(t *testing.T) {
	gate := NewGate()

	verdict := gate.Evaluate([]string{"chest pain", "shortness of breath"}, nil)

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.Equal(t, []string{"cardiac_risk"}, verdict.TriggeredRules)
	assert.Contains(t, verdict.Rationale, "Multiple cardiac symptoms present")
}

func TestCombinationRuleSepsisRisk(t *testing.T) {
	gate := NewGate()

	verdict := gate.Evaluate([]string{"fever", "confusion", "rapid heart rate"}, nil)

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.Equal(t, []string{"sepsis_risk"}, verdict.TriggeredRules)
}

func TestCombinationBelowThresholdDoesNotFire(t *testing.T) {
	gate := NewGate()

	verdict := gate.Evaluate([]string{"sweating"}, nil)

	assert.Equal(t, TierRoutine, verdict.UrgencyLevel)
	assert.Empty(t, verdict.TriggeredRules)
}

func TestVitalImmediateOxygenSaturation(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("fever, cough", map[string]float64{"oxygen_saturation": 88})

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.True(t, verdict.IsEmergency)
	assert.Contains(t, verdict.Rationale, "oxygen_saturation=88")
	assert.Contains(t, verdict.TriggeredRules, "oxygen_saturation=88")
}

func TestVitalUrgentHighHeartRate(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("feeling generally unwell", map[string]float64{"heart_rate": 140})

	assert.Equal(t, TierUrgent, verdict.UrgencyLevel)
	assert.False(t, verdict.IsEmergency)
	assert.Contains(t, verdict.TriggeredRules, "heart_rate=140")
}

func TestVitalExactlyAtBoundIsSafe(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("mild fatigue", map[string]float64{
		"oxygen_saturation": 92,
		"heart_rate":        120,
		"systolic_bp":       90,
	})

	assert.Equal(t, TierRoutine, verdict.UrgencyLevel)
	assert.Empty(t, verdict.TriggeredRules)
}

func TestVitalAliases(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("not feeling great", map[string]float64{"spo2": 85})
	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.Contains(t, verdict.TriggeredRules, "spo2=85")

	verdict = gate.EvaluateText("warm to the touch", map[string]float64{"temperature_c": 40})
	assert.Equal(t, TierUrgent, verdict.UrgencyLevel)
	assert.Contains(t, verdict.TriggeredRules, "temperature_c=40")

	verdict = gate.EvaluateText("fine", map[string]float64{"temperature_c": 37})
	assert.Equal(t, TierRoutine, verdict.UrgencyLevel)
}

func TestUnknownVitalIgnored(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("mild headache", map[string]float64{"shoe_size": 46})

	assert.Equal(t, TierRoutine, verdict.UrgencyLevel)
	assert.Empty(t, verdict.TriggeredRules)
}

func TestUrgentKeyword(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("chest discomfort after climbing stairs", nil)

	assert.Equal(t, TierUrgent, verdict.UrgencyLevel)
	assert.False(t, verdict.IsEmergency)
	assert.Contains(t, verdict.TriggeredRules, "chest discomfort")
	assert.Contains(t, verdict.Rationale, "URGENT")
}

func TestImmediateSupersedesUrgent(t *testing.T) {
	gate := NewGate()

	// Immediate keyword present alongside an urgent vital breach: the
	// immediate finding wins and supplies the rationale.
	verdict := gate.EvaluateText("slurred speech and confusion", map[string]float64{"heart_rate": 140})

	assert.Equal(t, TierImmediate, verdict.UrgencyLevel)
	assert.Contains(t, verdict.TriggeredRules, "slurred speech")
	assert.Contains(t, verdict.Rationale, "Detected critical symptoms")
}

func TestVitalRationaleWinsAtUrgentTier(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("chest discomfort", map[string]float64{"heart_rate": 130})

	assert.Equal(t, TierUrgent, verdict.UrgencyLevel)
	assert.Contains(t, verdict.Rationale, "Vital signs outside safe range")
	assert.Contains(t, verdict.TriggeredRules, "heart_rate=130")
	assert.Contains(t, verdict.TriggeredRules, "chest discomfort")
}

func TestEmptyInputIsRoutine(t *testing.T) {
	gate := NewGate()

	verdict := gate.EvaluateText("", nil)

	assert.Equal(t, TierRoutine, verdict.UrgencyLevel)
	assert.False(t, verdict.IsEmergency)
	assert.Empty(t, verdict.TriggeredRules)
	assert.Equal(t, "No immediate red flags detected.", verdict.Rationale)
}

func TestEveryImmediatePhraseTriggers(t *testing.T) {
	gate := NewGate()

	for _, phrase := range immediateRedFlags {
		verdict := gate.EvaluateText("patient reports "+phrase+" today", nil)
		assert.Equal(t, TierImmediate, verdict.UrgencyLevel, "phrase %q", phrase)
		assert.Contains(t, verdict.TriggeredRules, phrase)
	}
}

func TestVerdictNeverReEvaluated(t *testing.T) {
	gate := NewGate()

	first := gate.EvaluateText("seizure", nil)
	second := gate.EvaluateText("seizure", nil)

	assert.Equal(t, first, second)
}
