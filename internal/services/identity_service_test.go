package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestIdentityService_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewIdentityService(db)
	ctx := context.Background()

	t.Run("session user", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		userID, err := service.Resolve(ctx, IdentityClaim{SessionUserID: "user-1"})
		assert.NoError(t, err)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("session user no longer exists", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("user-gone").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := service.Resolve(ctx, IdentityClaim{SessionUserID: "user-gone"})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("linked wallet address", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM users WHERE LOWER").
			WithArgs("0xWallet123").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-2"))

		userID, err := service.Resolve(ctx, IdentityClaim{WalletAddress: "0xWallet123"})
		assert.NoError(t, err)
		assert.Equal(t, "user-2", userID)
	})

	t.Run("unlinked wallet address", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM users WHERE LOWER").
			WithArgs("0xUnknown").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Resolve(ctx, IdentityClaim{WalletAddress: "0xUnknown"})
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.Contains(t, err.Error(), "wallet not linked")
	})

	t.Run("admin supplied user", func(t *testing.T) {
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("user-3").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		userID, err := service.Resolve(ctx, IdentityClaim{AdminUserID: "user-3"})
		assert.NoError(t, err)
		assert.Equal(t, "user-3", userID)
	})

	t.Run("empty claim", func(t *testing.T) {
		_, err := service.Resolve(ctx, IdentityClaim{})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("combined claims are rejected", func(t *testing.T) {
		_, err := service.Resolve(ctx, IdentityClaim{SessionUserID: "user-1", WalletAddress: "0xWallet"})
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}
