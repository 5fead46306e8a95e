// Package sanitize validates that inbound text carries no residual
// identifiers. The upstream sanitizer is expected to have already removed
// PHI; this is the last-line check before text reaches prompts or storage.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3,4}[-.]?\d{4}\b|\b\d{3}[-]\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	datePattern  = regexp.MustCompile(`\b\d{1,4}[-/]\d{1,2}[-/]\d{1,4}\b`)

	nameIndicators = []string{"mr.", "mrs.", "ms.", "dr.", "prof."}
)

// Detect returns the kinds of identifier patterns present in text, in a
// fixed order: email, phone, ssn, date, name_indicator.
func Detect(text string) []string {
	var found []string
	if emailPattern.MatchString(text) {
		found = append(found, "email")
	}
	if phonePattern.MatchString(text) {
		found = append(found, "phone")
	}
	if ssnPattern.MatchString(text) {
		found = append(found, "ssn")
	}
	if datePattern.MatchString(text) {
		found = append(found, "date")
	}
	lower := strings.ToLower(text)
	for _, indicator := range nameIndicators {
		if strings.Contains(lower, indicator) {
			found = append(found, "name_indicator")
			break
		}
	}
	return found
}

// Clean reports whether text contains no detectable identifiers.
func Clean(text string) bool {
	return len(Detect(text)) == 0
}

// Redact replaces detectable identifiers with typed placeholders.
func Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL_REDACTED]")
	text = phonePattern.ReplaceAllString(text, "[PHONE_REDACTED]")
	text = ssnPattern.ReplaceAllString(text, "[SSN_REDACTED]")
	text = datePattern.ReplaceAllString(text, "[DATE_REDACTED]")
	return text
}
