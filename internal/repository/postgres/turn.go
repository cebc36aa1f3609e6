package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chattrain/chattrain/internal/domain"
)

// TurnRepository implements domain.TurnRepository
type TurnRepository struct {
	db *DB
}

// NewTurnRepository creates a new turn repository
func NewTurnRepository(db *DB) *TurnRepository {
	return &TurnRepository{db: db}
}

// SaveWithSession persists the turn and the updated session in one
// transaction. The raw and sanitized trainee text are never written;
// only the masked form reaches storage.
func (r *TurnRepository) SaveWithSession(ctx context.Context, turn *domain.Turn, session *domain.Session) error {
	evaluation, err := json.Marshal(turn.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to marshal evaluation: %w", err)
	}
	redactions, err := json.Marshal(turn.Redactions)
	if err != nil {
		return fmt.Errorf("failed to marshal redactions: %w", err)
	}
	stages, err := json.Marshal(turn.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stage times: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO turns (id, session_id, seq, masked_text, context_text, response_text, evaluation, redactions, stages, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		turn.ID,
		turn.SessionID,
		turn.Seq,
		turn.MaskedText,
		turn.ContextText,
		turn.ResponseText,
		evaluation,
		redactions,
		stages,
		turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	// Compare-and-set: a session the idle sweeper (or anyone else) has
	// already closed must not be written back to life by a stale worker.
	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET status = $1, turn_count = $2, total_score = $3, last_activity_at = $4, completed_at = $5
		WHERE id = $6 AND status NOT IN ('completed', 'abandoned', 'errored')
	`,
		session.Status,
		session.TurnCount,
		session.TotalScore,
		session.LastActivityAt,
		session.CompletedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionTerminal
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

func (r *TurnRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.Turn, error) {
	// limit 0 means the full transcript
	query := `
		SELECT id, session_id, seq, masked_text, context_text, response_text, evaluation, redactions, stages, created_at
		FROM turns
		WHERE session_id = $1
		ORDER BY seq ASC
		LIMIT NULLIF($2, 0)
	`
	rows, err := r.db.Pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var evaluation, redactions, stages []byte
		if err := rows.Scan(
			&t.ID,
			&t.SessionID,
			&t.Seq,
			&t.MaskedText,
			&t.ContextText,
			&t.ResponseText,
			&evaluation,
			&redactions,
			&stages,
			&t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if len(evaluation) > 0 {
			if err := json.Unmarshal(evaluation, &t.Evaluation); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evaluation: %w", err)
			}
		}
		if len(redactions) > 0 {
			if err := json.Unmarshal(redactions, &t.Redactions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal redactions: %w", err)
			}
		}
		if len(stages) > 0 {
			if err := json.Unmarshal(stages, &t.Stages); err != nil {
				return nil, fmt.Errorf("failed to unmarshal stage times: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, nil
}
