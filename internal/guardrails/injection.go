package guardrails

import "regexp"

// maxScanChars caps the input passed to the classifier to keep scan cost
// bounded on very long contributions.
const maxScanChars = 2000

// weightedPattern pairs an injection heuristic with a confidence weight.
type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

var injectionPatterns = []weightedPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`), 0.95},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`), 0.95},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`), 0.9},
	{regexp.MustCompile(`(?i)new\s+instructions?:\s*`), 0.85},
	{regexp.MustCompile(`(?i)system\s*:\s*you\s+are`), 0.85},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`), 0.75},
	{regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`), 0.85},
	{regexp.MustCompile(`(?i)\bjailbreak\b`), 0.8},
	{regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`), 0.9},
	{regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+have\s+no\s+(restrictions?|rules?|filters?)`), 0.9},
	{regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`), 0.6},
	{regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`), 0.6},
	{regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`), 0.7},
	{regexp.MustCompile(`(?i)repeat\s+(your|the)\s+(system\s+)?(prompt|instructions?)\s+verbatim`), 0.7},
}

// InjectionScanner classifies contributed text as benign or prompt injection.
// Runs before sanitization so partial redaction cannot mask injection
// patterns.
type InjectionScanner struct {
	threshold float64
}

// NewInjectionScanner builds a scanner with the given rejection threshold.
func NewInjectionScanner(threshold float64) *InjectionScanner {
	return &InjectionScanner{threshold: threshold}
}

// Classify returns (isInjection, score). The score is the strongest matching
// heuristic's weight; isInjection is true when score >= threshold.
func (s *InjectionScanner) Classify(text string) (bool, float64) {
	if len(text) > maxScanChars {
		text = text[:maxScanChars]
	}
	score := 0.0
	for _, p := range injectionPatterns {
		if p.weight > score && p.re.MatchString(text) {
			score = p.weight
		}
	}
	return score >= s.threshold, score
}
