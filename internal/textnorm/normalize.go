// Package textnorm canonicalizes page text before keyword matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Options toggles the individual normalization steps. All steps are
// enabled by default; disabling one must not affect the others.
type Options struct {
	NFKC                bool
	NormalizeWhitespace bool
	Lowercase           bool
}

// DefaultOptions enables every normalization step.
func DefaultOptions() Options {
	return Options{NFKC: true, NormalizeWhitespace: true, Lowercase: true}
}

// Normalizer applies Unicode and whitespace canonicalization. It is
// stateless and safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New builds a Normalizer with the given options.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize applies NFKC, whitespace collapsing, and lowercasing in
// that order. The result is a fixed point: normalizing twice yields
// the same string.
func (n *Normalizer) Normalize(s string) string {
	if n.opts.NFKC {
		s = norm.NFKC.String(s)
	}
	if n.opts.NormalizeWhitespace {
		s = collapseWhitespace(s)
	}
	if n.opts.Lowercase {
		s = strings.ToLower(s)
	}
	return s
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inRun = true
			continue
		}
		if inRun && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inRun = false
		b.WriteRune(r)
	}
	return b.String()
}
