package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureInvalid means the callback is not authentic. Hard boundary:
// the caller must reject without touching any state.
var ErrSignatureInvalid = errors.New("webhook signature invalid")

// Verifier checks the HMAC-SHA256 signature the PSP sends with each callback.
// Header format: "t=<unix>,v1=<hex>[,v1=<hex>]", signed over "<ts>.<payload>".
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: secret, tolerance: tolerance, now: time.Now}
}

// Verify validates header against payload. Anything short of a full match,
// including a stale timestamp, is ErrSignatureInvalid.
func (v *Verifier) Verify(payload []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" || v.secret == "" {
		return ErrSignatureInvalid
	}

	var ts string
	candidates := make([]string, 0, 1)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimPrefix(part, "t=")
		}
		if strings.HasPrefix(part, "v1=") {
			candidates = append(candidates, strings.TrimPrefix(part, "v1="))
		}
	}
	if ts == "" || len(candidates) == 0 {
		return ErrSignatureInvalid
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	now := v.now().Unix()
	if now-tsUnix > int64(v.tolerance.Seconds()) || tsUnix-now > int64(v.tolerance.Seconds()) {
		return ErrSignatureInvalid
	}

	expected := computeSignature(v.secret, payload, tsUnix)
	for _, sig := range candidates {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// Sign produces a valid signature header for payload at time at. Used by
// tests and local PSP simulators.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(secret, payload, ts)))
}

func computeSignature(secret string, payload []byte, ts int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
