package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Retry.DelayBase)
	assert.Equal(t, "SV", cfg.TxID.Prefix)
	assert.Equal(t, "H%d", cfg.TxID.SuffixFormat)
	assert.Equal(t, 10, cfg.TxID.BaseLength)
	assert.Equal(t, []string{"T30", "T3A"}, cfg.BillingProductCodes)
	assert.Equal(t, 10*time.Second, cfg.Settlement.Timeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY_BASE_SECONDS", "2")
	t.Setenv("TXID_PREFIX", "TX")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("BILLING_PRODUCT_CODES", "T30")
	t.Setenv("SETTLEMENT_TIMEOUT", "3s")

	cfg := Load()

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.DelayBase)
	assert.Equal(t, "TX", cfg.TxID.Prefix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"T30"}, cfg.BillingProductCodes)
	assert.Equal(t, 3*time.Second, cfg.Settlement.Timeout)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "three")
	t.Setenv("TXID_BASE_LENGTH", "-1")
	t.Setenv("SETTLEMENT_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10, cfg.TxID.BaseLength)
	assert.Equal(t, 10*time.Second, cfg.Settlement.Timeout)
}
