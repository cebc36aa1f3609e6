package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/chattrain/chattrain/internal/domain"
)

// IntegrityError signals that the verification pass still found a
// detector match in masked output. The turn carrying this text must be
// discarded, never transmitted or stored.
type IntegrityError struct {
	Kinds []domain.RedactionKind
}

func (e *IntegrityError) Error() string {
	names := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		names[i] = string(k)
	}
	return fmt.Sprintf("masking integrity failure: residual matches for %s", strings.Join(names, ", "))
}

type detector struct {
	kind        domain.RedactionKind
	replacement string
	patterns    []*regexp.Regexp
}

// Masker detects and redacts sensitive data patterns. Redaction is
// one-way: a fixed placeholder per data category, no reversible
// encoding. All patterns are compiled once at construction.
type Masker struct {
	detectors []detector
	whitelist []*regexp.Regexp
}

// whitelistContext is how far ahead of a whitelisted term a match is
// still suppressed ("test account AC-000000" keeps the identifier).
const whitelistContext = 40

// NewMasker builds the detector chain. Structured numeric identifiers
// run before looser patterns so that account and card numbers are
// removed before phone heuristics see the remaining digits. Whitelist
// terms suppress redaction to avoid over-masking known-benign text.
func NewMasker(whitelist []string) *Masker {
	detectors := []detector{
		{
			kind:        domain.RedactionAccount,
			replacement: "{{ACCOUNT}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bAC-\d{6}\b`),
				regexp.MustCompile(`\bACCT-\d{6,10}\b`),
				regexp.MustCompile(`(?i)\baccount\s*(?:number|#)?\s*:\s*\d{6,12}\b`),
			},
		},
		{
			kind:        domain.RedactionCard,
			replacement: "{{CARD}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{4}[-\s]\d{4}[-\s]\d{4}[-\s]\d{4}\b`),
				regexp.MustCompile(`\b\d{15,16}\b`),
			},
		},
		{
			kind:        domain.RedactionGovID,
			replacement: "{{ID}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`),
			},
		},
		{
			kind:        domain.RedactionPhone,
			replacement: "{{PHONE}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.\s]?\d{4}\b`),
				regexp.MustCompile(`\b1[-.\s]\d{3}[-.\s]\d{3}[-.\s]\d{4}\b`),
				regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`),
			},
		},
		{
			kind:        domain.RedactionEmail,
			replacement: "{{EMAIL}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			},
		},
		{
			kind:        domain.RedactionPolicy,
			replacement: "{{POLICY}}",
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bP-\d{6}\b`),
				regexp.MustCompile(`\b(?:POL|CLM)-\d{6,10}\b`),
			},
		},
	}

	compiled := make([]*regexp.Regexp, 0, len(whitelist))
	for _, term := range whitelist {
		if term == "" {
			continue
		}
		compiled = append(compiled, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(term)))
	}

	return &Masker{detectors: detectors, whitelist: compiled}
}

type span struct {
	start, end  int
	kind        domain.RedactionKind
	replacement string
}

// Mask replaces every detector match in text with its category
// placeholder and returns the write-once redaction records. The
// verification pass re-applies all detectors to the masked output and
// returns an IntegrityError if anything still matches.
func (m *Masker) Mask(text string) (string, []domain.Redaction, error) {
	if text == "" {
		return "", nil, nil
	}

	spans := m.collect(text)
	if len(spans) == 0 {
		if kinds := m.residual(text); len(kinds) > 0 {
			return "", nil, &IntegrityError{Kinds: kinds}
		}
		return text, nil, nil
	}

	var b strings.Builder
	redactions := make([]domain.Redaction, 0, len(spans))
	prev := 0
	for _, sp := range spans {
		b.WriteString(text[prev:sp.start])
		b.WriteString(sp.replacement)
		prev = sp.end
		redactions = append(redactions, domain.Redaction{
			Kind:        sp.kind,
			Start:       sp.start,
			End:         sp.end,
			Replacement: sp.replacement,
		})
	}
	b.WriteString(text[prev:])
	masked := b.String()

	if kinds := m.residual(masked); len(kinds) > 0 {
		return "", nil, &IntegrityError{Kinds: kinds}
	}

	return masked, redactions, nil
}

// collect gathers non-overlapping match spans in detector order against
// the original text, so offsets stay valid for audit records.
func (m *Masker) collect(text string) []span {
	excluded := m.whitelistSpans(text)

	var spans []span
	for _, d := range m.detectors {
		for _, re := range d.patterns {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				if overlapsAny(loc[0], loc[1], spans) || m.suppressed(loc[0], loc[1], excluded) {
					continue
				}
				spans = append(spans, span{
					start:       loc[0],
					end:         loc[1],
					kind:        d.kind,
					replacement: d.replacement,
				})
			}
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

// residual reports detector kinds that still match after masking
func (m *Masker) residual(masked string) []domain.RedactionKind {
	excluded := m.whitelistSpans(masked)
	var kinds []domain.RedactionKind
	seen := make(map[domain.RedactionKind]bool)
	for _, d := range m.detectors {
		for _, re := range d.patterns {
			for _, loc := range re.FindAllStringIndex(masked, -1) {
				if m.suppressed(loc[0], loc[1], excluded) {
					continue
				}
				if !seen[d.kind] {
					seen[d.kind] = true
					kinds = append(kinds, d.kind)
				}
			}
		}
	}
	return kinds
}

func (m *Masker) whitelistSpans(text string) [][]int {
	var out [][]int
	for _, re := range m.whitelist {
		out = append(out, re.FindAllStringIndex(text, -1)...)
	}
	return out
}

// suppressed reports whether a match overlaps a whitelisted term or
// trails one within the context window.
func (m *Masker) suppressed(start, end int, excluded [][]int) bool {
	for _, ex := range excluded {
		if start < ex[1] && end > ex[0] {
			return true
		}
		if start >= ex[1] && start-ex[1] <= whitelistContext {
			return true
		}
	}
	return false
}

func overlapsAny(start, end int, spans []span) bool {
	for _, sp := range spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}
