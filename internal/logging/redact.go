package logging

import (
	"io"
	"regexp"
)

// redactedPlaceholder replaces every secret match in redacted output.
const redactedPlaceholder = "[REDACTED]"

// Redactor masks substrings matching any of its patterns. It is applied to
// log output and to captured command output so secrets declared in the
// project configuration never reach a terminal or CI log.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the given patterns into a Redactor. Patterns that do
// not compile are skipped. Returns nil when no usable pattern remains, which
// callers treat as "no redaction".
func NewRedactor(patterns []string) *Redactor {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	if len(compiled) == 0 {
		return nil
	}
	return &Redactor{patterns: compiled}
}

// Mask returns s with every pattern match replaced by a placeholder.
func (r *Redactor) Mask(s string) string {
	if r == nil {
		return s
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Wrap returns a writer that masks each write before forwarding it to w.
// Masking is per-write; a secret split across two writes is not detected.
// Log lines and command output lines are written whole, so this does not
// occur in practice.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	if r == nil {
		return w
	}
	return &redactWriter{redactor: r, out: w}
}

type redactWriter struct {
	redactor *Redactor
	out      io.Writer
}

// Write masks p and forwards it. The original length is reported so callers
// like fmt.Fprintf never see a short-write error from masking shrinking the
// payload.
func (w *redactWriter) Write(p []byte) (int, error) {
	masked := w.redactor.Mask(string(p))
	if _, err := w.out.Write([]byte(masked)); err != nil {
		return 0, err
	}
	return len(p), nil
}
