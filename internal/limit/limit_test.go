package limit

import "testing"

func TestCheck_WithinLimits(t *testing.T) {
	limiter := NewStakeLimiter(500, 2000)

	if err := limiter.Check(100, 0); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_PerStakeExceeded(t *testing.T) {
	limiter := NewStakeLimiter(500, 2000)

	if err := limiter.Check(501, 0); err != ErrStakeTooLarge {
		t.Errorf("expected ErrStakeTooLarge, got %v", err)
	}
}

func TestCheck_PerStakeAtLimit(t *testing.T) {
	limiter := NewStakeLimiter(500, 2000)

	if err := limiter.Check(500, 0); err != nil {
		t.Errorf("stake exactly at the limit should be allowed, got %v", err)
	}
}

func TestCheck_MarketExposureExceeded(t *testing.T) {
	limiter := NewStakeLimiter(500, 2000)

	// Existing 1800 + new 300 = 2100 > 2000.
	if err := limiter.Check(300, 1800); err != ErrMarketExposureExceeded {
		t.Errorf("expected ErrMarketExposureExceeded, got %v", err)
	}
}

func TestCheck_MarketExposureAtLimit(t *testing.T) {
	limiter := NewStakeLimiter(500, 2000)

	// Existing 1500 + new 500 = 2000, exactly at the limit: allowed.
	if err := limiter.Check(500, 1500); err != nil {
		t.Errorf("exposure exactly at the limit should be allowed, got %v", err)
	}
}

func TestCheck_ZeroDisablesChecks(t *testing.T) {
	limiter := NewStakeLimiter(0, 0)

	if err := limiter.Check(1_000_000, 5_000_000); err != nil {
		t.Errorf("zero limits should disable checks, got %v", err)
	}
}
