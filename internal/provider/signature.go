package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"gitlab.com/voxline/api/voxline-call-engine/internal/apperrors"
)

// Webhook signature headers sent by the provider.
const (
	SignatureHeader = "X-Provider-Signature"
	TimestampHeader = "X-Provider-Timestamp"

	// signatureTolerance bounds how stale a signed timestamp may be.
	signatureTolerance = 5 * time.Minute
)

// VerifyWebhookSignature checks the HMAC-SHA256 signature over the raw
// payload. The signed message is "<timestamp>.<payload>" so a captured body
// cannot be replayed under a fresh timestamp.
func VerifyWebhookSignature(payload []byte, signature, timestamp, secret string, now time.Time) error {
	if signature == "" || timestamp == "" {
		return fmt.Errorf("%w: missing signature or timestamp header", apperrors.ErrBadRequest)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp header", apperrors.ErrBadRequest)
	}

	sentAt := time.Unix(ts, 0)
	if diff := now.Sub(sentAt); diff > signatureTolerance || diff < -signatureTolerance {
		return fmt.Errorf("%w: webhook timestamp outside tolerance", apperrors.ErrUnauthorized)
	}

	expected := ComputeSignature(payload, timestamp, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: webhook signature mismatch", apperrors.ErrUnauthorized)
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(payload []byte, timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
