package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/edupass/backend/internal/models"
)

// BalanceService owns the per-account EDU balance. Credit is the only
// mutation; it is a single atomic increment at the storage layer, so
// concurrent credits to one account never lose an update.
type BalanceService struct {
	db *sql.DB
}

func NewBalanceService(db *sql.DB) *BalanceService {
	return &BalanceService{db: db}
}

// Credit adds amount EDU to the account and returns the new balance.
// amount must be non-negative.
func (s *BalanceService) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: credit amount must be non-negative", ErrInvalidAmount)
	}

	if err := s.ensureAccount(ctx, userID); err != nil {
		return decimal.Zero, err
	}

	var newBalance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET edu_balance = edu_balance + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING edu_balance`,
		userID, amount,
	).Scan(&newBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return newBalance, nil
}

// Get returns the account balance, creating a zero-balance account on
// first touch.
func (s *BalanceService) Get(ctx context.Context, userID string) (*models.Account, error) {
	if err := s.ensureAccount(ctx, userID); err != nil {
		return nil, err
	}

	var acct models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, edu_balance, updated_at FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&acct.UserID, &acct.EduBalance, &acct.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return &acct, nil
}

func (s *BalanceService) ensureAccount(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, edu_balance, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}
