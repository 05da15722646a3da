package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// IdentityClaim names the account a deposit should be credited to.
// Exactly one field must be set; variants are never combined.
type IdentityClaim struct {
	SessionUserID string
	WalletAddress string
	AdminUserID   string
}

// IdentityService maps an inbound identity claim to exactly one user ID.
type IdentityService struct {
	db *sql.DB
}

func NewIdentityService(db *sql.DB) *IdentityService {
	return &IdentityService{db: db}
}

// Resolve returns the user ID for the claim, or ErrAccountNotFound.
func (s *IdentityService) Resolve(ctx context.Context, claim IdentityClaim) (string, error) {
	set := 0
	if claim.SessionUserID != "" {
		set++
	}
	if claim.WalletAddress != "" {
		set++
	}
	if claim.AdminUserID != "" {
		set++
	}
	if set != 1 {
		return "", fmt.Errorf("%w: exactly one identity claim required", ErrAccountNotFound)
	}

	switch {
	case claim.SessionUserID != "":
		// Should always exist under correct auth; fail loudly if not.
		if err := s.userExists(ctx, claim.SessionUserID); err != nil {
			return "", err
		}
		return claim.SessionUserID, nil

	case claim.AdminUserID != "":
		if err := s.userExists(ctx, claim.AdminUserID); err != nil {
			return "", err
		}
		return claim.AdminUserID, nil

	default:
		var userID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM users WHERE LOWER(wallet_address) = LOWER($1)`,
			strings.TrimSpace(claim.WalletAddress),
		).Scan(&userID)
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: wallet not linked to any account", ErrAccountNotFound)
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		return userID, nil
	}
}

func (s *IdentityService) userExists(ctx context.Context, userID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if !exists {
		return fmt.Errorf("%w: no account for user %s", ErrAccountNotFound, userID)
	}
	return nil
}
