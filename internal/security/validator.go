package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SignatureKind classifies a matched attack signature
type SignatureKind string

const (
	SignatureMarkup         SignatureKind = "markup_injection"
	SignatureDataLayer      SignatureKind = "data_injection"
	SignaturePromptOverride SignatureKind = "prompt_override"
)

// Finding records one filtered signature match. The matched text itself
// is never kept, only the signature kind and pattern.
type Finding struct {
	Kind    SignatureKind
	Pattern string
}

// RejectError is returned when input cannot be salvaged. Code is a
// stable, non-sensitive reason surfaced to the user.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string {
	return e.Message
}

const (
	ReasonTooLong  = "message_too_long"
	ReasonEmpty    = "message_empty"
	ReasonRejected = "message_rejected"
)

const filteredPlaceholder = "[filtered]"

type signature struct {
	kind SignatureKind
	re   *regexp.Regexp
}

// InputValidator sanitizes user text before it enters the pipeline
type InputValidator struct {
	maxLength  int
	signatures []signature
	tagRe      *regexp.Regexp
	controlRe  *regexp.Regexp
	spaceRe    *regexp.Regexp
	contentRe  *regexp.Regexp
}

// ValidationResult carries the sanitized text plus any filtered findings
type ValidationResult struct {
	Sanitized string
	Findings  []Finding
}

// NewInputValidator compiles the signature set once
func NewInputValidator(maxLength int) *InputValidator {
	if maxLength <= 0 {
		maxLength = 2000
	}

	sigs := []signature{
		// Markup / script injection
		{SignatureMarkup, regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)},
		{SignatureMarkup, regexp.MustCompile(`(?i)javascript:`)},
		{SignatureMarkup, regexp.MustCompile(`(?i)\bon\w+\s*=`)},
		{SignatureMarkup, regexp.MustCompile(`(?i)<(?:iframe|object|embed|link|meta)[^>]*>`)},

		// Data-layer injection: query keywords in suspicious position
		{SignatureDataLayer, regexp.MustCompile(`(?i)\b(?:union|select|insert|update|delete|drop|create|alter)\s+(?:all\s+)?(?:from|into|table|where|select)\b`)},
		{SignatureDataLayer, regexp.MustCompile(`(?i)\b(?:or|and)\s+\d+\s*=\s*\d+`)},
		{SignatureDataLayer, regexp.MustCompile(`(?i)'\s*(?:or|and)\s*'`)},
		{SignatureDataLayer, regexp.MustCompile(`(?i);\s*--`)},

		// Model-prompt override attempts
		{SignaturePromptOverride, regexp.MustCompile(`(?i)ignore\s+(?:previous|all|prior)\s+instructions`)},
		{SignaturePromptOverride, regexp.MustCompile(`(?i)disregard\s+(?:the\s+)?(?:previous|all|prior|above)`)},
		{SignaturePromptOverride, regexp.MustCompile(`(?i)you\s+are\s+now\s+(?:a\s+)?(?:different|another)`)},
		{SignaturePromptOverride, regexp.MustCompile(`(?i)\b(?:pretend|roleplay)\s+(?:you\s+are|to\s+be|as)\b`)},
		{SignaturePromptOverride, regexp.MustCompile(`(?i)^\s*(?:system|assistant)\s*:`)},
		{SignaturePromptOverride, regexp.MustCompile(`(?i)\b(?:execute|run|eval)\s+(?:this\s+)?(?:code|command|shell)\b`)},
	}

	return &InputValidator{
		maxLength:  maxLength,
		signatures: sigs,
		tagRe:      regexp.MustCompile(`<[^>]*>`),
		controlRe:  regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]"),
		spaceRe:    regexp.MustCompile(`\s+`),
		contentRe:  regexp.MustCompile(`[\p{L}\p{N}]`),
	}
}

// Validate sanitizes raw trainee text. Over-length input is rejected,
// never truncated. Signature matches are replaced with a neutral
// placeholder; the turn is rejected only when no content-bearing text
// survives filtering.
func (v *InputValidator) Validate(raw string) (*ValidationResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &RejectError{Code: ReasonEmpty, Message: "message is empty"}
	}

	if n := utf8.RuneCountInString(raw); n > v.maxLength {
		return nil, &RejectError{
			Code:    ReasonTooLong,
			Message: fmt.Sprintf("message too long: %d characters (max %d)", n, v.maxLength),
		}
	}

	sanitized := v.controlRe.ReplaceAllString(raw, "")

	var findings []Finding
	for _, sig := range v.signatures {
		if !sig.re.MatchString(sanitized) {
			continue
		}
		sanitized = sig.re.ReplaceAllString(sanitized, filteredPlaceholder)
		findings = append(findings, Finding{Kind: sig.kind, Pattern: sig.re.String()})
	}

	// Remaining markup is stripped without recording a finding; bare
	// tags in otherwise ordinary text are not treated as an attack.
	sanitized = v.tagRe.ReplaceAllString(sanitized, "")
	sanitized = strings.TrimSpace(v.spaceRe.ReplaceAllString(sanitized, " "))

	if !v.hasContent(sanitized) {
		return nil, &RejectError{Code: ReasonRejected, Message: "message rejected"}
	}

	return &ValidationResult{Sanitized: sanitized, Findings: findings}, nil
}

// Sanitize applies the signature filter without admission checks.
// Used on model output before it reaches the trainee or storage; a
// misled model must not echo injection payloads back out.
func (v *InputValidator) Sanitize(text string) (string, []Finding) {
	var findings []Finding
	out := text
	for _, sig := range v.signatures {
		if !sig.re.MatchString(out) {
			continue
		}
		out = sig.re.ReplaceAllString(out, filteredPlaceholder)
		findings = append(findings, Finding{Kind: sig.kind, Pattern: sig.re.String()})
	}
	return out, findings
}

// hasContent reports whether any letters or digits remain after the
// filter placeholders are removed.
func (v *InputValidator) hasContent(s string) bool {
	stripped := strings.ReplaceAll(s, filteredPlaceholder, "")
	return v.contentRe.MatchString(stripped)
}
