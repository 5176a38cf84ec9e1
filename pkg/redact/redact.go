// Package redact strips private blocks and sensitive tokens from captured
// text before anything else in the pipeline sees it.
package redact

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Marker replaces every sensitive match.
const Marker = "[REDACTED]"

// privateBlockRegex matches <private>...</private> blocks across line
// boundaries. Blocks are not nested.
var privateBlockRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// builtinPatterns detect API keys and tokens: known provider key prefixes
// and long opaque base64-like runs.
var builtinPatterns = []string{
	`sk-ant-[A-Za-z0-9_-]{16,}`,
	`sk-[A-Za-z0-9]{20,}`,
	`ghp_[A-Za-z0-9]{20,}`,
	`gho_[A-Za-z0-9]{20,}`,
	`xox[bapr]-[A-Za-z0-9-]{10,}`,
	`AKIA[0-9A-Z]{16}`,
	`eyJ[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{10,}`,
	`\b[A-Za-z0-9+=_-]{24,}\b`,
}

// Config holds redactor configuration.
type Config struct {
	// Patterns are additional sensitive patterns, compiled
	// case-insensitively. Invalid patterns are skipped with a warning.
	Patterns []string

	// MinLength suppresses captures whose redacted output is shorter.
	MinLength int
}

// Redactor applies private-block stripping followed by pattern redaction.
type Redactor struct {
	patterns  []*regexp.Regexp
	minLength int
	logger    *zap.Logger
}

// New compiles the built-in and configured patterns into a Redactor.
// Pattern errors fail open: the offending pattern is skipped and logged.
func New(c Config, logger *zap.Logger) *Redactor {
	raw := make([]string, 0, len(builtinPatterns)+len(c.Patterns))
	raw = append(raw, builtinPatterns...)
	raw = append(raw, c.Patterns...)

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			logger.Warn("skipping invalid redaction pattern",
				zap.String("pattern", p),
				zap.Error(err),
			)
			continue
		}
		patterns = append(patterns, re)
	}

	return &Redactor{
		patterns:  patterns,
		minLength: c.MinLength,
		logger:    logger,
	}
}

// Redact strips <private> blocks in their entirety, then replaces every
// sensitive-pattern match with the redaction marker.
func (r *Redactor) Redact(text string) string {
	out := privateBlockRegex.ReplaceAllString(text, "")
	for _, re := range r.patterns {
		out = re.ReplaceAllString(out, Marker)
	}
	return strings.TrimSpace(out)
}

// Suppress reports whether a redacted capture is too short to keep.
func (r *Redactor) Suppress(redacted string) bool {
	return len(redacted) < r.minLength
}
