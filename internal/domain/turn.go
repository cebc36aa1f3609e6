package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RedactionKind identifies the detector that produced a redaction
type RedactionKind string

const (
	RedactionAccount RedactionKind = "account_number"
	RedactionCard    RedactionKind = "card_number"
	RedactionGovID   RedactionKind = "government_id"
	RedactionPhone   RedactionKind = "phone_number"
	RedactionEmail   RedactionKind = "email_address"
	RedactionPolicy  RedactionKind = "policy_number"
)

// Redaction records one masked span of a turn. Write-once; the original
// text is never stored, only its offsets in the sanitized input.
type Redaction struct {
	Kind        RedactionKind `json:"kind"`
	Start       int           `json:"start"`
	End         int           `json:"end"`
	Replacement string        `json:"replacement"`
}

// StageTimes captures when each pipeline stage finished for a turn
type StageTimes struct {
	Validated time.Time `json:"validated,omitempty"`
	Masked    time.Time `json:"masked,omitempty"`
	Retrieved time.Time `json:"retrieved,omitempty"`
	Generated time.Time `json:"generated,omitempty"`
	Evaluated time.Time `json:"evaluated,omitempty"`
}

// Turn represents one request/response exchange within a session.
// Each pipeline stage fills in its field; the record is immutable after
// persistence.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Seq       int       `json:"seq"`

	// RawText and SanitizedText exist only while the pipeline runs.
	// Neither is persisted or exported; identifiers leave this process
	// in masked form only.
	RawText       string `json:"-"`
	SanitizedText string `json:"-"`

	MaskedText    string            `json:"masked_text"`
	ContextText   string            `json:"context_text,omitempty"`
	ResponseText  string            `json:"response_text"`
	Evaluation    *EvaluationResult `json:"evaluation,omitempty"`
	Redactions    []Redaction       `json:"redactions,omitempty"`
	Stages        StageTimes        `json:"stages"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TurnRepository defines the interface for turn storage.
// SaveWithSession persists the completed turn and the updated session
// in one transaction; partial writes are not acceptable.
type TurnRepository interface {
	SaveWithSession(ctx context.Context, turn *Turn, session *Session) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]Turn, error)
}
