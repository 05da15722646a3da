package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

const depositQRCacheKey = "deposit:address_qr"

// QRService renders the platform deposit wallet address as a QR code
// so wallets can scan where to send PZO.
type QRService struct {
	redis         *redis.Client
	walletAddress string
}

func NewQRService(redisClient *redis.Client, walletAddress string) *QRService {
	return &QRService{
		redis:         redisClient,
		walletAddress: walletAddress,
	}
}

// DepositAddress holds the deposit target and its rendered QR PNG.
type DepositAddress struct {
	WalletAddress string `json:"walletAddress"`
	QRImage       string `json:"qrImage"` // base64 PNG
}

// GetDepositAddress returns the deposit wallet address with a QR image.
// The rendered payload is cached: the address only changes on redeploy.
func (s *QRService) GetDepositAddress(ctx context.Context) (*DepositAddress, error) {
	if s.walletAddress == "" {
		return nil, fmt.Errorf("deposit wallet address not configured")
	}

	if s.redis != nil {
		if data, err := s.redis.Get(ctx, depositQRCacheKey).Bytes(); err == nil {
			var cached DepositAddress
			if json.Unmarshal(data, &cached) == nil && cached.WalletAddress == s.walletAddress {
				return &cached, nil
			}
		}
	}

	qr, err := qrcode.New(s.walletAddress, qrcode.Medium)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return nil, err
	}

	addr := &DepositAddress{
		WalletAddress: s.walletAddress,
		QRImage:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}

	if s.redis != nil {
		if data, err := json.Marshal(addr); err == nil {
			s.redis.Set(ctx, depositQRCacheKey, data, time.Hour)
		}
	}

	return addr, nil
}
