package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chattrain/chattrain/internal/domain"
)

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, scenario_id, user_id, status, turn_count, total_score, created_at, last_activity_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		session.ID,
		session.ScenarioID,
		session.UserID,
		session.Status,
		session.TurnCount,
		session.TotalScore,
		session.CreatedAt,
		session.LastActivityAt,
		session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, scenario_id, user_id, status, turn_count, total_score, created_at, last_activity_at, completed_at
		FROM sessions
		WHERE id = $1
	`
	var s domain.Session
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.ScenarioID,
		&s.UserID,
		&s.Status,
		&s.TurnCount,
		&s.TotalScore,
		&s.CreatedAt,
		&s.LastActivityAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	query := `
		SELECT id, scenario_id, user_id, status, turn_count, total_score, created_at, last_activity_at, completed_at
		FROM sessions
		WHERE user_id = $1
		ORDER BY last_activity_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.ScenarioID,
			&s.UserID,
			&s.Status,
			&s.TurnCount,
			&s.TotalScore,
			&s.CreatedAt,
			&s.LastActivityAt,
			&s.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *SessionRepository) ListIdleSince(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	query := `
		SELECT id, scenario_id, user_id, status, turn_count, total_score, created_at, last_activity_at, completed_at
		FROM sessions
		WHERE status IN ('created', 'in_progress') AND last_activity_at < $1
	`
	rows, err := r.db.Pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.ScenarioID,
			&s.UserID,
			&s.Status,
			&s.TurnCount,
			&s.TotalScore,
			&s.CreatedAt,
			&s.LastActivityAt,
			&s.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Update writes the session back. Terminal rows are immutable; writing
// over one reports ErrSessionTerminal instead of silently reviving it.
func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	query := `
		UPDATE sessions
		SET status = $1, turn_count = $2, total_score = $3, last_activity_at = $4, completed_at = $5
		WHERE id = $6 AND status NOT IN ('completed', 'abandoned', 'errored')
	`
	tag, err := r.db.Pool.Exec(ctx, query,
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
	return nil
}
