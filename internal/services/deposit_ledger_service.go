package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edupass/backend/internal/models"
)

// DepositLedgerService is the authoritative record of which tx hashes
// have been credited. Reserve is the single entry gate: it either
// creates a fresh PENDING record, observes an existing CONFIRMED one,
// or takes over a FAILED/stale-PENDING one, each via one atomic SQL
// statement, never a find-then-write pair. Tokens are reissued on every
// takeover so a holder that lost its reservation cannot finalize it.
type DepositLedgerService struct {
	db                 *sql.DB
	reservationTimeout time.Duration
}

func NewDepositLedgerService(db *sql.DB, reservationTimeout time.Duration) *DepositLedgerService {
	return &DepositLedgerService{
		db:                 db,
		reservationTimeout: reservationTimeout,
	}
}

// Reservation is a provisional claim on a tx hash, held while
// conversion and crediting proceed.
type Reservation struct {
	DepositID string
	Token     string
}

// ReserveOutcome reports either a fresh reservation or the previously
// confirmed record for an already-processed tx hash.
type ReserveOutcome struct {
	AlreadyConfirmed bool
	Confirmed        *models.Deposit
	Reservation      *Reservation
}

const depositColumns = `id, tx_hash, user_id, pzo_amount, edu_amount, exchange_rate,
	status, processed_by, failure_reason, processed_at, created_at, updated_at`

// Reserve atomically claims txHash for this request.
func (s *DepositLedgerService) Reserve(ctx context.Context, txHash, userID string, pzoAmount decimal.Decimal, processedBy string) (*ReserveOutcome, error) {
	token := uuid.NewString()

	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO deposits (id, tx_hash, user_id, pzo_amount, status, processed_by, reservation_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, now(), now())
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id`,
		uuid.NewString(), txHash, userID, pzoAmount, processedBy, token,
	).Scan(&id)
	if err == nil {
		return &ReserveOutcome{Reservation: &Reservation{DepositID: id, Token: token}}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	// A record for this tx hash already exists. Two passes: the record
	// can flip state between the read and the guarded takeover, in
	// which case the takeover affects zero rows and we look again.
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.GetByTxHash(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Rows are never deleted; nothing sane to do here.
			return nil, fmt.Errorf("%w: deposit record for %s vanished", ErrStorageFailure, txHash)
		}

		switch existing.Status {
		case models.DepositConfirmed:
			return &ReserveOutcome{AlreadyConfirmed: true, Confirmed: existing}, nil

		case models.DepositFailed:
			res, err := s.takeOverFailed(ctx, txHash, userID, pzoAmount, processedBy, token)
			if err != nil {
				return nil, err
			}
			if res != nil {
				return &ReserveOutcome{Reservation: res}, nil
			}

		case models.DepositPending:
			res, err := s.takeOverStale(ctx, txHash, userID, pzoAmount, processedBy, token)
			if err != nil {
				return nil, err
			}
			if res != nil {
				log.Printf("[DEPOSIT_LEDGER] Reclaimed stale reservation for %s", txHash)
				return &ReserveOutcome{Reservation: res}, nil
			}
			// A live holder is still working on this tx hash.
			return nil, ErrReservationHeld
		}
	}
	return nil, ErrReservationHeld
}

// Finalize marks a held reservation CONFIRMED with the credited amount
// and the rate used. Fails with ErrReservationLost if the reservation
// was reclaimed in the meantime.
func (s *DepositLedgerService) Finalize(ctx context.Context, res *Reservation, eduAmount, rateUsed decimal.Decimal) (time.Time, error) {
	var processedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE deposits
		SET status = 'CONFIRMED', edu_amount = $3, exchange_rate = $4, processed_at = now(), updated_at = now()
		WHERE id = $1 AND reservation_token = $2 AND status = 'PENDING'
		RETURNING processed_at`,
		res.DepositID, res.Token, eduAmount, rateUsed,
	).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrReservationLost
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return processedAt, nil
}

// Abort releases a held reservation as FAILED so a later request with
// the same tx hash can retry.
func (s *DepositLedgerService) Abort(ctx context.Context, res *Reservation, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'FAILED', failure_reason = $3, updated_at = now()
		WHERE id = $1 AND reservation_token = $2 AND status = 'PENDING'`,
		res.DepositID, res.Token, reason,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrReservationLost
	}
	return nil
}

func (s *DepositLedgerService) takeOverFailed(ctx context.Context, txHash, userID string, pzoAmount decimal.Decimal, processedBy, token string) (*Reservation, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE deposits
		SET status = 'PENDING', user_id = $2, pzo_amount = $3, processed_by = $4,
		    reservation_token = $5, failure_reason = NULL, updated_at = now()
		WHERE tx_hash = $1 AND status = 'FAILED'
		RETURNING id`,
		txHash, userID, pzoAmount, processedBy, token,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return &Reservation{DepositID: id, Token: token}, nil
}

func (s *DepositLedgerService) takeOverStale(ctx context.Context, txHash, userID string, pzoAmount decimal.Decimal, processedBy, token string) (*Reservation, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE deposits
		SET user_id = $2, pzo_amount = $3, processed_by = $4,
		    reservation_token = $5, updated_at = now()
		WHERE tx_hash = $1 AND status = 'PENDING'
		  AND updated_at < now() - ($6 * interval '1 second')
		RETURNING id`,
		txHash, userID, pzoAmount, processedBy, token, s.reservationTimeout.Seconds(),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return &Reservation{DepositID: id, Token: token}, nil
}

// GetByTxHash returns the ledger record for a tx hash, or nil.
func (s *DepositLedgerService) GetByTxHash(ctx context.Context, txHash string) (*models.Deposit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE tx_hash = $1`, txHash)
	dep, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return dep, nil
}

// ListByUser returns a user's deposits, newest first.
func (s *DepositLedgerService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+depositColumns+` FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectDeposits(rows)
}

// ListByStatus returns deposits in a given state, oldest first. This
// is the ops view for watching PENDING and FAILED records.
func (s *DepositLedgerService) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+depositColumns+` FROM deposits
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return collectDeposits(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*models.Deposit, error) {
	var (
		dep         models.Deposit
		eduAmount   decimal.NullDecimal
		rate        decimal.NullDecimal
		reason      sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(&dep.ID, &dep.TxHash, &dep.UserID, &dep.PzoAmount, &eduAmount, &rate,
		&dep.Status, &dep.ProcessedBy, &reason, &processedAt, &dep.CreatedAt, &dep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if eduAmount.Valid {
		dep.EduAmount = &eduAmount.Decimal
	}
	if rate.Valid {
		dep.ExchangeRate = &rate.Decimal
	}
	if reason.Valid {
		dep.FailureReason = reason.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		dep.ProcessedAt = &t
	}
	return &dep, nil
}

func collectDeposits(rows *sql.Rows) ([]models.Deposit, error) {
	var out []models.Deposit
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}
		out = append(out, *dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return out, nil
}
