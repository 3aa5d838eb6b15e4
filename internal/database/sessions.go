package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sellerworks/band-crawler/internal/models"
)

// SessionRepository persists cookie jars keyed by account.
type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Get loads the persisted session for an account. A missing session is
// a valid absence, returned as (nil, nil), not an error.
func (r *SessionRepository) Get(ctx context.Context, accountID string) (*models.Session, error) {
	query := `
		SELECT account_id, cookies, captured_at
		FROM crawler_sessions
		WHERE account_id = $1`

	var (
		session models.Session
		raw     []byte
	)
	err := r.db.QueryRow(ctx, query, accountID).Scan(&session.AccountID, &raw, &session.CapturedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal(raw, &session.Cookies); err != nil {
		return nil, fmt.Errorf("failed to decode cookie jar: %w", err)
	}
	session.Valid = true

	return &session, nil
}

// Put stores a session, replacing any previous jar for the account.
func (r *SessionRepository) Put(ctx context.Context, session *models.Session) error {
	raw, err := json.Marshal(session.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookie jar: %w", err)
	}

	if session.CapturedAt.IsZero() {
		session.CapturedAt = time.Now()
	}

	query := `
		INSERT INTO crawler_sessions (account_id, cookies, captured_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE SET
			cookies = EXCLUDED.cookies,
			captured_at = EXCLUDED.captured_at`

	if _, err := r.db.Exec(ctx, query, session.AccountID, raw, session.CapturedAt); err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}

	return nil
}

// Delete removes a persisted session, e.g. after explicit invalidation.
func (r *SessionRepository) Delete(ctx context.Context, accountID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM crawler_sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
