package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService renders scan-to-pay QR images for gateway hosted payment URLs.
// Images are cached in Redis so retried initiations reuse the same render.
type QRService struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewQRService(redisClient *redis.Client, ttl time.Duration) *QRService {
	return &QRService{
		redis: redisClient,
		ttl:   ttl,
	}
}

// GeneratePaymentQR returns a base64 PNG encoding the charge's payment URL.
func (s *QRService) GeneratePaymentQR(ctx context.Context, chargeID, paymentURL string) (string, error) {
	if paymentURL == "" {
		return "", fmt.Errorf("charge %s has no payment URL", chargeID)
	}

	key := fmt.Sprintf("payqr:%s", chargeID)
	if s.redis != nil {
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return cached, nil
		}
	}

	qr, err := qrcode.New(paymentURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		if err := s.redis.Set(ctx, key, qrImage, s.ttl).Err(); err != nil {
			return qrImage, nil
		}
	}

	return qrImage, nil
}
