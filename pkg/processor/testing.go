package processor

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// SignPayload builds a Stripe-Signature header for payload, for use by
// tests that drive the webhook endpoint.
func SignPayload(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}
