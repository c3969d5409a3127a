// Package guardrails gates contributed content before it enters the commons:
// a prompt-injection scanner and a markdown-aware PII sanitizer.
package guardrails

import (
	"fmt"
	"regexp"
	"strings"
)

// Code spans are lifted out before scanning and reinjected verbatim after.
// Fenced extraction runs before inline extraction so triple-backtick fences
// are never matched by the inline pattern.
var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```|~~~.*?~~~")
	inlineCodeRe = regexp.MustCompile("`[^`\n]+`")
)

// placeholderRe matches every typed placeholder the sanitizer can emit. It
// drives the over-redaction rejection check.
var placeholderRe = regexp.MustCompile(`\[(?:EMAIL|PHONE|NAME|LOCATION|API_KEY|CREDIT_CARD|IP_ADDRESS|USERNAME|REDACTED)\]`)

// entityPattern describes one PII detector. When group > 0 only that capture
// group is replaced; the surrounding context is kept.
type entityPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
	group       int
}

// entityCatalog runs after the secrets catalog. Credit cards precede phone
// numbers so a 16-digit card is not split into phone fragments.
var entityCatalog = []entityPattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[EMAIL]", 0},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-\s]){3}\d{4}\b`), "[CREDIT_CARD]", 0},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED]", 0},
	{"ip_address", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_ADDRESS]", 0},
	{"phone", regexp.MustCompile(`(\+?\d{1,2}[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`), "[PHONE]", 0},
	{"person", regexp.MustCompile(`\b(?:[Nn]ame is|[Cc]ontact|[Aa]sk for|[Ss]igned by|[Rr]egards,?)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`), "[NAME]", 1},
	{"location", regexp.MustCompile(`\b\d{1,5}\s+[A-Z][a-z]+\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr)\b`), "[LOCATION]", 0},
	{"username", regexp.MustCompile(`(?i)\b(?:user(?:name)?|login)\s*[:=]\s*(\S{3,})`), "[USERNAME]", 1},
}

// Sanitizer strips PII from contributed text. It is process-wide and
// stateless; callers must never log the raw input.
type Sanitizer struct {
	maxRedactionRatio float64
}

// NewSanitizer returns a sanitizer with the standard 50% rejection threshold.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{maxRedactionRatio: 0.50}
}

// Sanitize strips PII from text and returns (cleaned, shouldReject).
//
// Code spans are extracted first and reinjected untouched. Detection runs
// twice (residual findings from pass one are caught by pass two), then every
// captured original span of length >= 4 is checked verbatim against the
// output and redacted if it survived. shouldReject is true when placeholders
// exceed half the post-strip whitespace tokens, meaning the content is too
// redacted to be useful.
func (s *Sanitizer) Sanitize(text string) (string, bool) {
	work, blocks := extractCode(text)

	var captured []string

	// Pass 1 and pass 2a.
	work = redactOnce(work, &captured)
	work = redactOnce(work, &captured)

	// Pass 2b: verbatim re-check on the captured spans.
	for _, span := range captured {
		if len(span) >= 4 {
			work = strings.ReplaceAll(work, span, "[REDACTED]")
		}
	}

	cleaned := reinjectCode(work, blocks)

	placeholders := len(placeholderRe.FindAllString(cleaned, -1))
	totalTokens := len(strings.Fields(cleaned))
	if totalTokens < 1 {
		totalTokens = 1
	}
	shouldReject := float64(placeholders)/float64(totalTokens) > s.maxRedactionRatio

	return cleaned, shouldReject
}

// redactOnce applies the secrets catalog then the entity catalog, appending
// each original detected span to captured.
func redactOnce(text string, captured *[]string) string {
	for _, p := range secretsCatalog {
		text = replaceAll(text, p.re, p.placeholder, 0, captured)
	}
	for _, p := range entityCatalog {
		text = replaceAll(text, p.re, p.placeholder, p.group, captured)
	}
	return text
}

// replaceAll substitutes every match (or match group) with the placeholder.
func replaceAll(text string, re *regexp.Regexp, placeholder string, group int, captured *[]string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if group > 0 {
			if len(m) <= 2*group+1 || m[2*group] < 0 {
				continue
			}
			start, end = m[2*group], m[2*group+1]
		}
		if start < last {
			continue
		}
		*captured = append(*captured, text[start:end])
		b.WriteString(text[last:start])
		b.WriteString(placeholder)
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// extractCode lifts fenced blocks then inline spans out of text, replacing
// each with an opaque placeholder.
func extractCode(text string) (string, []string) {
	var blocks []string
	lift := func(re *regexp.Regexp, in string) string {
		return re.ReplaceAllStringFunc(in, func(m string) string {
			blocks = append(blocks, m)
			return fmt.Sprintf("{{HM_CODE_%d}}", len(blocks)-1)
		})
	}
	out := lift(fencedCodeRe, text)
	out = lift(inlineCodeRe, out)
	return out, blocks
}

// reinjectCode restores the lifted code spans verbatim.
func reinjectCode(text string, blocks []string) string {
	for i := len(blocks) - 1; i >= 0; i-- {
		text = strings.Replace(text, fmt.Sprintf("{{HM_CODE_%d}}", i), blocks[i], 1)
	}
	return text
}
