package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GetDepositAddress(t *testing.T) {
	t.Run("renders the wallet address as a PNG QR code", func(t *testing.T) {
		service := NewQRService(nil, "0xPlatformWallet")

		addr, err := service.GetDepositAddress(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "0xPlatformWallet", addr.WalletAddress)

		raw, err := base64.StdEncoding.DecodeString(addr.QRImage)
		assert.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(raw))
		assert.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
	})

	t.Run("unconfigured wallet address is an error", func(t *testing.T) {
		service := NewQRService(nil, "")

		_, err := service.GetDepositAddress(context.Background())
		assert.Error(t, err)
	})

	t.Run("cache hit skips rendering", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient, "0xPlatformWallet")

		cached := &DepositAddress{WalletAddress: "0xPlatformWallet", QRImage: "cached-image"}
		data, err := json.Marshal(cached)
		assert.NoError(t, err)
		redisMock.ExpectGet("deposit:address_qr").SetVal(string(data))

		addr, err := service.GetDepositAddress(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "cached-image", addr.QRImage)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("stale cache for another address is ignored", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewQRService(redisClient, "0xNewWallet")

		cached := &DepositAddress{WalletAddress: "0xOldWallet", QRImage: "cached-image"}
		data, err := json.Marshal(cached)
		assert.NoError(t, err)
		redisMock.ExpectGet("deposit:address_qr").SetVal(string(data))
		redisMock.Regexp().ExpectSet("deposit:address_qr", `.*0xNewWallet.*`, time.Hour).SetVal("OK")

		addr, err := service.GetDepositAddress(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "0xNewWallet", addr.WalletAddress)
	})
}
