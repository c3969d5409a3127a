package guardrails

import "regexp"

// secretPattern is one entry in the curated secrets catalog. Matches are
// replaced with the given typed placeholder.
type secretPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
}

// secretsCatalog covers well-known credential formats plus generic secret
// assignments and private endpoints. Order matters: specific formats run
// before the generic assignment pattern so a labelled key gets the
// [API_KEY] placeholder rather than the generic fallback.
var secretsCatalog = []secretPattern{
	{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[API_KEY]"},
	{"github_token_classic", regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), "[API_KEY]"},
	{"github_token_fine_grained", regexp.MustCompile(`github_pat_[A-Za-z0-9_]{82}`), "[API_KEY]"},
	{"google_api_key", regexp.MustCompile(`AIza[0-9A-Za-z\-_]{35}`), "[API_KEY]"},
	{"stripe_key", regexp.MustCompile(`(?:sk|pk)_(?:test|live)_[A-Za-z0-9]{24,}`), "[API_KEY]"},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]+`), "[API_KEY]"},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[API_KEY]"},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (?:RSA )?PRIVATE KEY-----`), "[REDACTED]"},
	{"generic_secret", regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|password|passwd|pwd)\s*[:=]\s*['"]?\S{8,}['"]?`), "[REDACTED]"},
	{"connection_string", regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb|redis|amqp)://\S+`), "[REDACTED]"},
	{"private_url", regexp.MustCompile(`(?:https?://)?(?:localhost|127\.0\.0\.1|10\.\d+\.\d+\.\d+|192\.168\.\d+\.\d+|172\.(?:1[6-9]|2\d|3[01])\.\d+\.\d+)(?::\d+)?(?:/\S*)?`), "[REDACTED]"},
}
