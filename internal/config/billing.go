package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingPolicy holds the tunable billing rules read from billing.yml.
type BillingPolicy struct {
	AntiFraudWindowDays      int    `mapstructure:"antiFraudWindowDays"`
	PaymentDueDays           int    `mapstructure:"paymentDueDays"`
	BaseCurrency             string `mapstructure:"baseCurrency"`
	TaxRuleLevelRounding     bool   `mapstructure:"taxRuleLevelRounding"`
	MaxPaymentAttempts       int    `mapstructure:"maxPaymentAttempts"`
	DeactivationGraceDays    int    `mapstructure:"deactivationGraceDays"`
	AdjustmentDueImmediately bool   `mapstructure:"adjustmentDueImmediately"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		AntiFraudWindowDays:      7,
		PaymentDueDays:           7,
		BaseCurrency:             "USD",
		TaxRuleLevelRounding:     false,
		MaxPaymentAttempts:       3,
		DeactivationGraceDays:    0,
		AdjustmentDueImmediately: true,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// StaticPolicy returns a holder that never reloads.
func StaticPolicy(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewBillingPolicyHolder(log *zap.Logger) (*BillingPolicyHolder, error) {
	log = log.Named("config.billing")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/seatbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEATBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.antiFraudWindowDays", defaults.AntiFraudWindowDays)
	v.SetDefault("billing.paymentDueDays", defaults.PaymentDueDays)
	v.SetDefault("billing.baseCurrency", defaults.BaseCurrency)
	v.SetDefault("billing.taxRuleLevelRounding", defaults.TaxRuleLevelRounding)
	v.SetDefault("billing.maxPaymentAttempts", defaults.MaxPaymentAttempts)
	v.SetDefault("billing.deactivationGraceDays", defaults.DeactivationGraceDays)
	v.SetDefault("billing.adjustmentDueImmediately", defaults.AdjustmentDueImmediately)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodeBillingPolicy(v)
	if err != nil {
		return nil, err
	}
	if err := ValidateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := StaticPolicy(policy)
	if !fileLoaded {
		log.Info("billing.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeBillingPolicy(v)
		if err != nil {
			log.Warn("billing policy reload failed", zap.Error(err))
			return
		}
		if err := ValidateBillingPolicy(updated); err != nil {
			log.Warn("invalid billing policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeBillingPolicy unmarshals through AllSettings so defaults fill keys the file omits.
func decodeBillingPolicy(v *viper.Viper) (BillingPolicy, error) {
	var wrapper struct {
		Billing BillingPolicy `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BillingPolicy{}, err
	}
	return wrapper.Billing, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func ValidateBillingPolicy(p BillingPolicy) error {
	if p.AntiFraudWindowDays < 0 {
		return errors.New("billing.antiFraudWindowDays cannot be negative")
	}
	if p.PaymentDueDays < 0 {
		return errors.New("billing.paymentDueDays cannot be negative")
	}
	if len(strings.TrimSpace(p.BaseCurrency)) != 3 {
		return errors.New("billing.baseCurrency must be an ISO 4217 code")
	}
	if p.MaxPaymentAttempts < 1 {
		return errors.New("billing.maxPaymentAttempts must be at least 1")
	}
	if p.DeactivationGraceDays < 0 {
		return errors.New("billing.deactivationGraceDays cannot be negative")
	}
	return nil
}
