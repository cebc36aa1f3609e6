package security

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chattrain/chattrain/internal/domain"
)

// Auditor writes the security audit trail. Entries carry signature and
// detector kinds only; raw offending text is never persisted so attack
// payloads cannot survive verbatim in logs.
type Auditor struct {
	log zerolog.Logger
}

// NewAuditor creates an auditor writing to the given logger
func NewAuditor(log zerolog.Logger) *Auditor {
	return &Auditor{log: log.With().Str("channel", "audit").Logger()}
}

// Rejection records a refused turn with the signature kinds that fired
func (a *Auditor) Rejection(sessionID uuid.UUID, userID string, findings []Finding) {
	kinds := make([]string, len(findings))
	for i, f := range findings {
		kinds[i] = string(f.Kind)
	}
	a.log.Warn().
		Str("event", "security_rejection").
		Str("session_id", sessionID.String()).
		Str("user_id", userID).
		Strs("signature_kinds", kinds).
		Msg("turn refused")
}

// Filtered records signatures that were soft-filtered from an otherwise
// admitted turn
func (a *Auditor) Filtered(sessionID uuid.UUID, findings []Finding) {
	if len(findings) == 0 {
		return
	}
	kinds := make([]string, len(findings))
	for i, f := range findings {
		kinds[i] = string(f.Kind)
	}
	a.log.Info().
		Str("event", "signature_filtered").
		Str("session_id", sessionID.String()).
		Strs("signature_kinds", kinds).
		Msg("suspicious substrings filtered")
}

// MaskingAlarm escalates a post-mask verification failure. This
// indicates a gap in detector coverage and requires operator attention.
func (a *Auditor) MaskingAlarm(sessionID uuid.UUID, kinds []domain.RedactionKind) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	a.log.Error().
		Str("event", "masking_integrity_failure").
		Str("session_id", sessionID.String()).
		Strs("detector_kinds", names).
		Msg("residual sensitive pattern after masking; turn discarded")
}
