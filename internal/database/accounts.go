package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sellerworks/band-crawler/internal/models"
)

// AccountRepository reads and updates the storefront account registry:
// credentials, automation flag, and polling interval.
type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	query := `
		SELECT account_id, login_id, login_password, automation_enabled, interval_minutes
		FROM accounts
		WHERE account_id = $1`

	account := &models.Account{}
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.AccountID, &account.LoginID, &account.Password,
		&account.AutomationEnabled, &account.IntervalMinutes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown account is an answer, not an error; callers check
		// for a nil account.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ListAutomationEnabled returns the desired state the scheduler
// reconciles against.
func (r *AccountRepository) ListAutomationEnabled(ctx context.Context) ([]models.Account, error) {
	query := `
		SELECT account_id, login_id, login_password, automation_enabled, interval_minutes
		FROM accounts
		WHERE automation_enabled = true
		ORDER BY account_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.AccountID, &account.LoginID, &account.Password,
			&account.AutomationEnabled, &account.IntervalMinutes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// SetAutomation toggles automation and the polling interval for one account.
func (r *AccountRepository) SetAutomation(ctx context.Context, accountID string, enabled bool, intervalMinutes int) error {
	query := `
		UPDATE accounts
		SET automation_enabled = $1, interval_minutes = $2, updated_at = NOW()
		WHERE account_id = $3`

	tag, err := r.db.Exec(ctx, query, enabled, intervalMinutes, accountID)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}

	return nil
}

// DisableAutomation turns automation off with a recorded reason.
// Called after a fatal authentication failure so repeated doomed logins
// do not hammer the platform.
func (r *AccountRepository) DisableAutomation(ctx context.Context, accountID, reason string) error {
	query := `
		UPDATE accounts
		SET automation_enabled = false, disabled_reason = $1, updated_at = NOW()
		WHERE account_id = $2`

	if _, err := r.db.Exec(ctx, query, reason, accountID); err != nil {
		return fmt.Errorf("failed to disable automation: %w", err)
	}

	return nil
}
