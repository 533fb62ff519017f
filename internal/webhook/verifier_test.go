package webhook

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func TestVerifier_ValidSignature(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{"id":"evt_1","provider_ref":"pr_123","status":"settled"}`)

	header := Sign(testSecret, payload, time.Now())
	assert.NoError(t, v.Verify(payload, header))
}

func TestVerifier_TamperedPayload(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{"status":"settled"}`)
	header := Sign(testSecret, payload, time.Now())

	tampered := []byte(`{"status":"refunded"}`)
	assert.ErrorIs(t, v.Verify(tampered, header), ErrSignatureInvalid)
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{"status":"settled"}`)
	header := Sign("whsec_other", payload, time.Now())
	assert.ErrorIs(t, v.Verify(payload, header), ErrSignatureInvalid)
}

func TestVerifier_StaleTimestamp(t *testing.T) {
	v := NewVerifier(testSecret, time.Minute)
	payload := []byte(`{"status":"settled"}`)
	header := Sign(testSecret, payload, time.Now().Add(-10*time.Minute))
	assert.ErrorIs(t, v.Verify(payload, header), ErrSignatureInvalid)
}

func TestVerifier_MalformedHeader(t *testing.T) {
	v := NewVerifier(testSecret, 5*time.Minute)
	payload := []byte(`{}`)
	for _, header := range []string{"", "garbage", "t=abc,v1=00", fmt.Sprintf("t=%d", time.Now().Unix()), "v1=00"} {
		assert.ErrorIs(t, v.Verify(payload, header), ErrSignatureInvalid, "header %q", header)
	}
}

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"id":"evt_1","provider_ref":"pr_123","status":"Settled"}`))
	assert.NoError(t, err)
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, "pr_123", evt.ProviderRef)
	assert.Equal(t, "settled", evt.Status)

	_, err = ParseEvent([]byte(`{"id":"evt_1"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}
