package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimits sizes the sliding-window budget for exchange API calls.
type RateLimits struct {
	ReadLimit     int `yaml:"read_limit"`
	WriteLimit    int `yaml:"write_limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// AdmissionLimits sizes the order queue and its lifecycle sweeps.
type AdmissionLimits struct {
	MaxOrdersPerInstrument int `yaml:"max_orders_per_instrument"`
	QueueCapacity          int `yaml:"queue_capacity"`
	MaxRetries             int `yaml:"max_retries"`
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	RetentionHours         int `yaml:"retention_hours"`
}

// FeeSchedule holds the exchange's fee rates and the optimizer thresholds.
// MakerRate is negative when the exchange pays a rebate.
type FeeSchedule struct {
	MakerRate float64 `yaml:"maker_rate"`
	TakerRate float64 `yaml:"taker_rate"`

	UrgencyTakerThreshold    float64 `yaml:"urgency_taker_threshold"`
	UrgencyModerateThreshold float64 `yaml:"urgency_moderate_threshold"`
	VolatilityThreshold      float64 `yaml:"volatility_threshold"`
	PriceGapRatio            float64 `yaml:"price_gap_ratio"`
	TakerAvoidMultiple       float64 `yaml:"taker_avoid_multiple"`
	SessionAccumulationLimit float64 `yaml:"session_accumulation_limit"`
}

// RiskLimits sizes the fee-risk guard and the emergency stop.
// Fee-loss ceilings are in quote-currency units; impact thresholds are
// ratios on the normalized cumulative fee impact.
type RiskLimits struct {
	MinProfitMargin        float64 `yaml:"min_profit_margin"`
	MaxDailyFeeLoss        float64 `yaml:"max_daily_fee_loss"`
	MaxSessionFeeLoss      float64 `yaml:"max_session_fee_loss"`
	CumulativeWarning      float64 `yaml:"cumulative_warning"`
	EmergencyStopThreshold float64 `yaml:"emergency_stop_threshold"`
	HighFrequencyMode      bool    `yaml:"high_frequency_mode"`
	TradeCountThreshold    int     `yaml:"trade_count_threshold"`
	TimeWindowMinutes      int     `yaml:"time_window_minutes"`
}

// Limits is the full tuning surface of the execution core.
type Limits struct {
	Rate      RateLimits      `yaml:"rate"`
	Admission AdmissionLimits `yaml:"admission"`
	Fees      FeeSchedule     `yaml:"fees"`
	Risk      RiskLimits      `yaml:"risk"`
}

// DefaultLimits returns the limits used when no file is provided.
func DefaultLimits() Limits {
	return Limits{
		Rate: RateLimits{
			ReadLimit:     10,
			WriteLimit:    6,
			WindowSeconds: 1,
		},
		Admission: AdmissionLimits{
			MaxOrdersPerInstrument: 30,
			QueueCapacity:          200,
			MaxRetries:             3,
			CleanupIntervalMinutes: 5,
			RetentionHours:         24,
		},
		Fees: FeeSchedule{
			MakerRate:                -0.0002,
			TakerRate:                0.0012,
			UrgencyTakerThreshold:    0.8,
			UrgencyModerateThreshold: 0.5,
			VolatilityThreshold:      0.02,
			PriceGapRatio:            0.001,
			TakerAvoidMultiple:       1.5,
			SessionAccumulationLimit: 0.01,
		},
		Risk: RiskLimits{
			MinProfitMargin:        0.0015,
			MaxDailyFeeLoss:        500,
			MaxSessionFeeLoss:      100,
			CumulativeWarning:      0.03,
			EmergencyStopThreshold: 0.05,
			HighFrequencyMode:      false,
			TradeCountThreshold:    100,
			TimeWindowMinutes:      60,
		},
	}
}

// LoadLimits reads the yaml limits file at path. Fields left at zero fall
// back to their defaults, so a partial file only overrides what it names.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read limits: %w", err)
	}

	limits := DefaultLimits()
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return Limits{}, fmt.Errorf("parse limits: %w", err)
	}

	if err := limits.Validate(); err != nil {
		return Limits{}, err
	}
	return limits, nil
}

// Validate rejects limits that would wedge the worker or disable a guard.
func (l Limits) Validate() error {
	if l.Rate.ReadLimit <= 0 || l.Rate.WriteLimit <= 0 {
		return fmt.Errorf("rate limits must be positive (read=%d write=%d)", l.Rate.ReadLimit, l.Rate.WriteLimit)
	}
	if l.Rate.WindowSeconds <= 0 {
		return fmt.Errorf("rate window must be positive (got %d)", l.Rate.WindowSeconds)
	}
	if l.Admission.MaxOrdersPerInstrument <= 0 {
		return fmt.Errorf("max_orders_per_instrument must be positive (got %d)", l.Admission.MaxOrdersPerInstrument)
	}
	if l.Admission.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive (got %d)", l.Admission.QueueCapacity)
	}
	if l.Fees.TakerRate <= 0 {
		return fmt.Errorf("taker_rate must be positive (got %v)", l.Fees.TakerRate)
	}
	if l.Risk.EmergencyStopThreshold <= 0 {
		return fmt.Errorf("emergency_stop_threshold must be positive (got %v)", l.Risk.EmergencyStopThreshold)
	}
	if l.Risk.CumulativeWarning >= l.Risk.EmergencyStopThreshold {
		return fmt.Errorf("cumulative_warning %v must be below emergency_stop_threshold %v",
			l.Risk.CumulativeWarning, l.Risk.EmergencyStopThreshold)
	}
	return nil
}

func (r RateLimits) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (a AdmissionLimits) CleanupInterval() time.Duration {
	return time.Duration(a.CleanupIntervalMinutes) * time.Minute
}

func (a AdmissionLimits) Retention() time.Duration {
	return time.Duration(a.RetentionHours) * time.Hour
}

func (r RiskLimits) TimeWindow() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}
