package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/edupass/backend/internal/models"
)

const rateCacheKey = "exchange_rate:latest"

// ExchangeRateService resolves the PZO-per-EDU conversion rate. Admins
// append config rows over time; the most recently effective one wins.
// With no config at all the platform falls back to a 1:1 rate so that
// deposits work before any pricing has been set.
type ExchangeRateService struct {
	db       *sql.DB
	redis    *redis.Client
	cacheTTL time.Duration
}

func NewExchangeRateService(db *sql.DB, redisClient *redis.Client, cacheTTL time.Duration) *ExchangeRateService {
	return &ExchangeRateService{
		db:       db,
		redis:    redisClient,
		cacheTTL: cacheTTL,
	}
}

// Resolve returns the currently effective rate. A configured price that
// is zero or negative is a hard ErrRateUnavailable, not a silent 1:1
// fallback: a corrupt config should block crediting, not misprice it.
func (s *ExchangeRateService) Resolve(ctx context.Context) (*models.ExchangeRate, error) {
	if rate := s.cachedRate(ctx); rate != nil {
		return rate, nil
	}

	var (
		price      decimal.NullDecimal
		minConvert decimal.NullDecimal
		maxConvert decimal.NullDecimal
		effective  time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT price, min_convert, max_convert, effective_at
		FROM exchange_rate_configs
		ORDER BY effective_at DESC, id DESC
		LIMIT 1`,
	).Scan(&price, &minConvert, &maxConvert, &effective)

	if err == sql.ErrNoRows {
		rate := &models.ExchangeRate{
			Price:       decimal.NewFromInt(1),
			EffectiveAt: time.Time{},
			Default:     true,
		}
		s.cacheRate(ctx, rate)
		return rate, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	rate := &models.ExchangeRate{
		Price:       decimal.NewFromInt(1),
		EffectiveAt: effective,
	}
	if price.Valid {
		if price.Decimal.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("%w: configured price %s is not positive", ErrRateUnavailable, price.Decimal)
		}
		rate.Price = price.Decimal
	} else {
		// Config row without a price keeps the 1:1 fallback.
		rate.Default = true
	}
	if minConvert.Valid {
		v := minConvert.Decimal
		rate.MinConvert = &v
	}
	if maxConvert.Valid {
		v := maxConvert.Decimal
		rate.MaxConvert = &v
	}

	s.cacheRate(ctx, rate)
	return rate, nil
}

// Convert computes the EDU credit for a claimed PZO amount under a
// resolved rate. Price is external-units-per-internal-unit, so the
// conversion is a division.
func (s *ExchangeRateService) Convert(pzoAmount decimal.Decimal, rate *models.ExchangeRate) (decimal.Decimal, error) {
	if rate.MinConvert != nil && pzoAmount.LessThan(*rate.MinConvert) {
		return decimal.Zero, fmt.Errorf("%w: amount below minimum convert of %s PZO", ErrInvalidAmount, rate.MinConvert)
	}
	if rate.MaxConvert != nil && pzoAmount.GreaterThan(*rate.MaxConvert) {
		return decimal.Zero, fmt.Errorf("%w: amount above maximum convert of %s PZO", ErrInvalidAmount, rate.MaxConvert)
	}
	return pzoAmount.Div(rate.Price), nil
}

// SetRate appends a new config row; existing rows are never updated in
// place so the history of effective rates is preserved.
func (s *ExchangeRateService) SetRate(ctx context.Context, price, minConvert, maxConvert *decimal.Decimal, adminID string) (*models.ExchangeRate, error) {
	if price != nil && price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: price must be positive", ErrRateUnavailable)
	}
	if minConvert != nil && maxConvert != nil && minConvert.GreaterThan(*maxConvert) {
		return nil, fmt.Errorf("%w: minConvert above maxConvert", ErrInvalidAmount)
	}

	var effective time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exchange_rate_configs (price, min_convert, max_convert, effective_at, created_by)
		VALUES ($1, $2, $3, now(), $4)
		RETURNING effective_at`,
		nullDecimal(price), nullDecimal(minConvert), nullDecimal(maxConvert), adminID,
	).Scan(&effective)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.invalidateCache(ctx)

	rate := &models.ExchangeRate{
		Price:       decimal.NewFromInt(1),
		MinConvert:  minConvert,
		MaxConvert:  maxConvert,
		EffectiveAt: effective,
	}
	if price != nil {
		rate.Price = *price
	} else {
		rate.Default = true
	}
	return rate, nil
}

func (s *ExchangeRateService) cachedRate(ctx context.Context) *models.ExchangeRate {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(ctx, rateCacheKey).Bytes()
	if err != nil {
		return nil
	}
	var rate models.ExchangeRate
	if err := json.Unmarshal(data, &rate); err != nil {
		log.Printf("[EXCHANGE_RATE] Dropping corrupt cache entry: %v", err)
		s.redis.Del(ctx, rateCacheKey)
		return nil
	}
	return &rate
}

func (s *ExchangeRateService) cacheRate(ctx context.Context, rate *models.ExchangeRate) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(rate)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, rateCacheKey, data, s.cacheTTL).Err(); err != nil {
		log.Printf("[EXCHANGE_RATE] Failed to cache rate: %v", err)
	}
}

func (s *ExchangeRateService) invalidateCache(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, rateCacheKey).Err(); err != nil {
		log.Printf("[EXCHANGE_RATE] Failed to invalidate rate cache: %v", err)
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
