package quota_test

import (
	"testing"
	"time"

	"github.com/artpar/metergate/domain/quota"
)

var (
	baseTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	limits   = quota.Limits{
		Cooldown:      30 * time.Second,
		DailyLimit:    20,
		MonthlyLimit:  200,
		IPHourlyLimit: 60,
	}
)

// -----------------------------------------------------------------------------
// Remaining
// -----------------------------------------------------------------------------

func TestRemaining_Positive(t *testing.T) {
	if got := quota.Remaining(20, 5); got != 15 {
		t.Errorf("Remaining(20, 5) = %d, want 15", got)
	}
}

func TestRemaining_NeverNegative(t *testing.T) {
	if got := quota.Remaining(20, 25); got != 0 {
		t.Errorf("Remaining(20, 25) = %d, want 0", got)
	}
	if got := quota.Remaining(20, 20); got != 0 {
		t.Errorf("Remaining(20, 20) = %d, want 0", got)
	}
}

// -----------------------------------------------------------------------------
// CheckCooldown
// -----------------------------------------------------------------------------

func TestCheckCooldown_NoPriorCall(t *testing.T) {
	d := quota.CheckCooldown(time.Time{}, false, baseTime, limits)
	if !d.Allowed {
		t.Error("expected admission with no prior call")
	}
}

func TestCheckCooldown_DeniesInsideWindow(t *testing.T) {
	lastAt := baseTime.Add(-10 * time.Second)

	d := quota.CheckCooldown(lastAt, true, baseTime, limits)

	if d.Allowed {
		t.Fatal("expected denial inside cooldown")
	}
	if d.Reason != quota.ReasonCooldown {
		t.Errorf("reason = %q, want %q", d.Reason, quota.ReasonCooldown)
	}
	wantReset := lastAt.Add(30 * time.Second)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("resetAt = %v, want %v", d.ResetAt, wantReset)
	}
	if d.Message == "" {
		t.Error("expected a human-readable message on denial")
	}
}

func TestCheckCooldown_AllowsAtBoundary(t *testing.T) {
	// Exactly cooldown seconds after the last call is admitted.
	lastAt := baseTime.Add(-30 * time.Second)

	d := quota.CheckCooldown(lastAt, true, baseTime, limits)

	if !d.Allowed {
		t.Error("expected admission exactly at cooldown expiry")
	}
}

func TestCheckCooldown_DisabledWhenZero(t *testing.T) {
	noCooldown := limits
	noCooldown.Cooldown = 0

	d := quota.CheckCooldown(baseTime.Add(-time.Millisecond), true, baseTime, noCooldown)

	if !d.Allowed {
		t.Error("expected admission with cooldown disabled")
	}
}

// -----------------------------------------------------------------------------
// CheckDaily / CheckMonthly
// -----------------------------------------------------------------------------

func TestCheckDaily_UnderLimit(t *testing.T) {
	d := quota.CheckDaily(19, baseTime, limits)
	if !d.Allowed {
		t.Error("expected admission at count 19 of 20")
	}
	if d.CurrentUsage != 19 {
		t.Errorf("currentUsage = %d, want 19", d.CurrentUsage)
	}
}

func TestCheckDaily_AtLimit(t *testing.T) {
	d := quota.CheckDaily(20, baseTime, limits)

	if d.Allowed {
		t.Fatal("expected denial at daily limit")
	}
	if d.Reason != quota.ReasonDaily {
		t.Errorf("reason = %q, want %q", d.Reason, quota.ReasonDaily)
	}
	wantReset := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("resetAt = %v, want next UTC midnight %v", d.ResetAt, wantReset)
	}
}

func TestCheckDaily_UnlimitedWhenZero(t *testing.T) {
	unlimited := limits
	unlimited.DailyLimit = 0

	d := quota.CheckDaily(1000000, baseTime, unlimited)

	if !d.Allowed {
		t.Error("expected admission with daily limit disabled")
	}
}

func TestCheckMonthly_AtLimit(t *testing.T) {
	d := quota.CheckMonthly(200, baseTime, limits)

	if d.Allowed {
		t.Fatal("expected denial at monthly limit")
	}
	if d.Reason != quota.ReasonMonthly {
		t.Errorf("reason = %q, want %q", d.Reason, quota.ReasonMonthly)
	}
	wantReset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !d.ResetAt.Equal(wantReset) {
		t.Errorf("resetAt = %v, want first of next month %v", d.ResetAt, wantReset)
	}
}

// -----------------------------------------------------------------------------
// Admit
// -----------------------------------------------------------------------------

func TestAdmit_CountsTheAdmittedCall(t *testing.T) {
	// Count observed before the reservation insert is 4; the admitted
	// call itself leaves 20-5 = 15.
	d := quota.Admit(4, baseTime, limits)

	if !d.Allowed {
		t.Fatal("expected admit decision to be allowed")
	}
	if d.Remaining != 15 {
		t.Errorf("remaining = %d, want 15", d.Remaining)
	}
	if d.CurrentUsage != 5 {
		t.Errorf("currentUsage = %d, want 5", d.CurrentUsage)
	}
}

func TestAdmit_LastSlot(t *testing.T) {
	d := quota.Admit(19, baseTime, limits)

	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0 for the last admitted slot", d.Remaining)
	}
}

// -----------------------------------------------------------------------------
// CheckIP
// -----------------------------------------------------------------------------

func TestCheckIP_UnderLimit(t *testing.T) {
	d := quota.CheckIP(10, baseTime, limits)

	if !d.Allowed {
		t.Fatal("expected admission under the hourly IP limit")
	}
	if d.Remaining != 50 {
		t.Errorf("remaining = %d, want 50", d.Remaining)
	}
}

func TestCheckIP_AtLimit(t *testing.T) {
	d := quota.CheckIP(60, baseTime, limits)

	if d.Allowed {
		t.Fatal("expected denial at the hourly IP limit")
	}
	if d.Reason != quota.ReasonIP {
		t.Errorf("reason = %q, want %q", d.Reason, quota.ReasonIP)
	}
	if !d.ResetAt.Equal(baseTime.Add(time.Hour)) {
		t.Errorf("resetAt = %v, want one hour out", d.ResetAt)
	}
}

func TestCheckIP_DisabledWhenZero(t *testing.T) {
	open := limits
	open.IPHourlyLimit = 0

	d := quota.CheckIP(99999, baseTime, open)

	if !d.Allowed {
		t.Error("expected admission with IP limit disabled")
	}
}
