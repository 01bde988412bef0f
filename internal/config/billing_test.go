package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultBillingPolicyIsValid(t *testing.T) {
	require.NoError(t, ValidateBillingPolicy(DefaultBillingPolicy()))
}

func TestValidateBillingPolicyRejectsBadValues(t *testing.T) {
	p := DefaultBillingPolicy()
	p.MaxPaymentAttempts = 0
	assert.Error(t, ValidateBillingPolicy(p))

	p = DefaultBillingPolicy()
	p.BaseCurrency = "US"
	assert.Error(t, ValidateBillingPolicy(p))

	p = DefaultBillingPolicy()
	p.AntiFraudWindowDays = -1
	assert.Error(t, ValidateBillingPolicy(p))
}

func TestNewBillingPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("billing:\n  antiFraudWindowDays: 14\n  maxPaymentAttempts: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yml"), content, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewBillingPolicyHolder(zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, 14, policy.AntiFraudWindowDays)
	assert.Equal(t, 5, policy.MaxPaymentAttempts)
	assert.Equal(t, 7, policy.PaymentDueDays)
	assert.Equal(t, "USD", policy.BaseCurrency)
}
