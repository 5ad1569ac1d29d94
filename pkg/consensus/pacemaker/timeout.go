package pacemaker

import (
	"fmt"
	"math"
	"time"
)

// Config parameterizes the view timeout.
type Config struct {
	// BaseTimeout is the duration of a view on the happy path.
	BaseTimeout time.Duration
	// Multiplier scales the timeout after each consecutive failed view.
	Multiplier float64
	// MaxTimeout caps the timeout.
	MaxTimeout time.Duration
}

// DefaultConfig returns the production timeout parameters.
func DefaultConfig() Config {
	return Config{
		BaseTimeout: time.Second,
		Multiplier:  1.5,
		MaxTimeout:  30 * time.Second,
	}
}

// Validate checks the parameters describe a non-decreasing, bounded backoff.
func (c Config) Validate() error {
	if c.BaseTimeout <= 0 {
		return fmt.Errorf("base timeout must be positive, got %v", c.BaseTimeout)
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("timeout multiplier must be at least 1, got %v", c.Multiplier)
	}
	if c.MaxTimeout < c.BaseTimeout {
		return fmt.Errorf("max timeout %v is below base timeout %v", c.MaxTimeout, c.BaseTimeout)
	}
	return nil
}

// TimeoutController implements truncated exponential backoff:
//
//	duration(r) = min(base * multiplier^r, max)
//
// where r counts consecutive views that ended in a timeout. r resets to zero
// as soon as a quorum certificate shows progress.
type TimeoutController struct {
	cfg         Config
	maxExponent float64
	failed      uint64
}

// NewTimeoutController creates a controller for cfg.
func NewTimeoutController(cfg Config) (*TimeoutController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxExponent := 0.0
	if cfg.Multiplier > 1 {
		// log_b(x) = ln(x) / ln(b)
		maxExponent = math.Log(float64(cfg.MaxTimeout)/float64(cfg.BaseTimeout)) / math.Log(cfg.Multiplier)
	}

	return &TimeoutController{cfg: cfg, maxExponent: maxExponent}, nil
}

// Duration returns the timeout for the current view.
func (tc *TimeoutController) Duration() time.Duration {
	r := float64(tc.failed)
	if tc.maxExponent > 0 && r >= tc.maxExponent {
		return tc.cfg.MaxTimeout
	}
	d := float64(tc.cfg.BaseTimeout) * math.Pow(tc.cfg.Multiplier, r)
	if d > float64(tc.cfg.MaxTimeout) {
		return tc.cfg.MaxTimeout
	}
	return time.Duration(d)
}

// OnTimeout records a failed view.
func (tc *TimeoutController) OnTimeout() {
	// stop counting once the cap is reached so r cannot overflow
	if float64(tc.failed) > tc.maxExponent {
		return
	}
	tc.failed++
}

// OnProgress records that a view completed with a certificate.
func (tc *TimeoutController) OnProgress() {
	tc.failed = 0
}

// FailedViews returns the number of consecutive failed views.
func (tc *TimeoutController) FailedViews() uint64 {
	return tc.failed
}
