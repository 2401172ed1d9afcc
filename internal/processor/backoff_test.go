package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second}

	assert.Equal(t, 2*time.Second, b.Delay(0))
	assert.Equal(t, 4*time.Second, b.Delay(1))
	assert.Equal(t, 16*time.Second, b.Delay(3))
	assert.Equal(t, 2*time.Second, b.Delay(-1))
	assert.Equal(t, b.Delay(maxBackoffShift), b.Delay(maxBackoffShift+10))
}

func TestBackoffJitterIsBounded(t *testing.T) {
	b := Backoff{Base: time.Second, Jitter: 500 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 4500*time.Millisecond)
	}
}

func TestParseEventKind(t *testing.T) {
	assert.Equal(t, KindPaymentSucceeded, ParseEventKind("payment_succeeded"))
	assert.Equal(t, KindPaymentFailed, ParseEventKind("payment_failed"))
	assert.Equal(t, KindRefundSucceeded, ParseEventKind("refund_succeeded"))
	assert.Equal(t, KindUnsupported, ParseEventKind("PAYMENT_SUCCEEDED"))
	assert.Equal(t, "unsupported", KindUnsupported.String())
	assert.Equal(t, "refund_succeeded", KindRefundSucceeded.String())
}
