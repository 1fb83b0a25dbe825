package admission

import (
	"time"

	"github.com/failsafe-go/admission/pid"
)

// Config configures an Engine. Non-positive values are replaced by their defaults.
type Config struct {
	// WindowTimeCycle is the default max duration of a sampling window. The effective duration is rescaled within
	// [0.2x, 2x] of this value depending on traffic.
	WindowTimeCycle time.Duration `yaml:"windowTimeCycle" mapstructure:"windowTimeCycle"`

	// WindowRequestCycle is the max number of requests sampled in a window.
	WindowRequestCycle int64 `yaml:"windowRequestCycle" mapstructure:"windowRequestCycle"`

	// Gains configures the PID controllers for each feedback kind.
	Gains pid.Gains `yaml:"gains" mapstructure:"gains"`

	// SmoothingAlpha is the EMA smoothing factor for feedback signals, in (0, 1].
	SmoothingAlpha float64 `yaml:"smoothingAlpha" mapstructure:"smoothingAlpha"`

	// DenoiserSize is the number of recent feedback samples used to detect outliers.
	DenoiserSize int `yaml:"denoiserSize" mapstructure:"denoiserSize"`

	// ZThreshold is the Z-score beyond which a feedback sample is treated as noise.
	ZThreshold float64 `yaml:"zThreshold" mapstructure:"zThreshold"`

	// QueueDelayTarget is the queue delay above which admission is tightened.
	QueueDelayTarget time.Duration `yaml:"queueDelayTarget" mapstructure:"queueDelayTarget"`

	// CPUTarget is the CPU utilization, from 0 to 1, above which admission is tightened.
	CPUTarget float64 `yaml:"cpuTarget" mapstructure:"cpuTarget"`

	// ErrorRateTarget is the error rate, from 0 to 1, above which admission is tightened.
	ErrorRateTarget float64 `yaml:"errorRateTarget" mapstructure:"errorRateTarget"`

	// DecreaseFactor is the max fraction by which the admit rate is multiplicatively decreased per feedback.
	DecreaseFactor float64 `yaml:"decreaseFactor" mapstructure:"decreaseFactor"`

	// IncreaseStep is the max amount by which the admit rate is additively increased per feedback.
	IncreaseStep float64 `yaml:"increaseStep" mapstructure:"increaseStep"`

	// MinAdmitRate is the lowest fraction of traffic that will be admitted.
	MinAdmitRate float64 `yaml:"minAdmitRate" mapstructure:"minAdmitRate"`

	// RetryBudget is the ratio of retries to requests allowed by the engine's retry budget. Non-positive ratios are
	// replaced by the default, so a budget that rejects every retry can't be configured here. Callers that need one
	// should construct a budget.RetryBudget with a ratio of 0 directly.
	RetryBudget float64 `yaml:"retryBudget" mapstructure:"retryBudget"`

	// RetryBudgetTTL is the period over which the retry budget counts requests and retries.
	RetryBudgetTTL time.Duration `yaml:"retryBudgetTTL" mapstructure:"retryBudgetTTL"`
}

// DefaultConfig returns a Config with every option set to its default.
func DefaultConfig() Config {
	return Config{
		WindowTimeCycle:    time.Second,
		WindowRequestCycle: 1024,
		Gains:              pid.DefaultGains,
		SmoothingAlpha:     .2,
		DenoiserSize:       20,
		ZThreshold:         2.5,
		QueueDelayTarget:   50 * time.Millisecond,
		CPUTarget:          .8,
		ErrorRateTarget:    .05,
		DecreaseFactor:     .5,
		IncreaseStep:       .05,
		MinAdmitRate:       .05,
		RetryBudget:        .1,
		RetryBudgetTTL:     10 * time.Second,
	}
}

// WithDefaults returns a copy of the config where invalid values are replaced by their defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.WindowTimeCycle <= 0 {
		c.WindowTimeCycle = d.WindowTimeCycle
	}
	if c.WindowRequestCycle <= 0 {
		c.WindowRequestCycle = d.WindowRequestCycle
	}
	c.Gains = c.Gains.WithDefaults()
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		c.SmoothingAlpha = d.SmoothingAlpha
	}
	if c.DenoiserSize <= 0 {
		c.DenoiserSize = d.DenoiserSize
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = d.ZThreshold
	}
	if c.QueueDelayTarget <= 0 {
		c.QueueDelayTarget = d.QueueDelayTarget
	}
	if c.CPUTarget <= 0 || c.CPUTarget > 1 {
		c.CPUTarget = d.CPUTarget
	}
	if c.ErrorRateTarget <= 0 || c.ErrorRateTarget > 1 {
		c.ErrorRateTarget = d.ErrorRateTarget
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor > 1 {
		c.DecreaseFactor = d.DecreaseFactor
	}
	if c.IncreaseStep <= 0 || c.IncreaseStep > 1 {
		c.IncreaseStep = d.IncreaseStep
	}
	if c.MinAdmitRate <= 0 || c.MinAdmitRate > 1 {
		c.MinAdmitRate = d.MinAdmitRate
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
	if c.RetryBudgetTTL <= 0 {
		c.RetryBudgetTTL = d.RetryBudgetTTL
	}
	return c
}

// target returns the configured target for the kind, in the units Feedback is reported in.
func (c Config) target(kind Kind) float64 {
	switch kind {
	case QueueDelay:
		return float64(c.QueueDelayTarget) / float64(time.Millisecond)
	case CPU:
		return c.CPUTarget
	default:
		return c.ErrorRateTarget
	}
}
