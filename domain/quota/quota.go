// Package quota provides pure functions for admission decisions.
// All functions are deterministic with no side effects; the app layer
// supplies window counts read from the usage ledger.
package quota

import (
	"fmt"
	"time"

	"github.com/artpar/metergate/domain/usage"
)

// Limits represents admission limits for a metered action (value type).
type Limits struct {
	Cooldown      time.Duration // minimum gap between two calls by the same user
	DailyLimit    int64         // calls per user per UTC day
	MonthlyLimit  int64         // calls per user per UTC month
	IPHourlyLimit int64         // calls per IP per trailing hour
}

// Reason identifies which window denied an admission.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonCooldown Reason = "cooldown"
	ReasonDaily    Reason = "daily_limit"
	ReasonMonthly  Reason = "monthly_limit"
	ReasonIP       Reason = "ip_limit"
)

// Decision represents the outcome of an admission check (value type).
// A denial is a value, never an error; it always carries ResetAt so a
// caller can render a countdown.
type Decision struct {
	Allowed      bool
	Remaining    int64
	ResetAt      time.Time
	Reason       Reason
	Message      string
	CurrentUsage int64
}

// Remaining returns max(0, limit-count); never negative.
func Remaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

// CheckCooldown evaluates the cooldown window given the timestamp of the
// most recent call by the same (user, action). hasLast is false when no
// call exists inside the cooldown lookback.
func CheckCooldown(lastAt time.Time, hasLast bool, now time.Time, limits Limits) Decision {
	if limits.Cooldown <= 0 || !hasLast {
		return Decision{Allowed: true}
	}
	resetAt := lastAt.Add(limits.Cooldown)
	if !now.Before(resetAt) {
		return Decision{Allowed: true}
	}
	wait := resetAt.Sub(now).Round(time.Second)
	return Decision{
		Allowed: false,
		ResetAt: resetAt,
		Reason:  ReasonCooldown,
		Message: fmt.Sprintf("cooldown active, retry in %s", wait),
	}
}

// CheckDaily evaluates the calendar-day window. count is the number of
// entries since midnight UTC.
func CheckDaily(count int64, now time.Time, limits Limits) Decision {
	if limits.DailyLimit <= 0 || count < limits.DailyLimit {
		return Decision{Allowed: true, CurrentUsage: count}
	}
	return Decision{
		Allowed:      false,
		ResetAt:      usage.NextDayStart(now),
		Reason:       ReasonDaily,
		Message:      fmt.Sprintf("daily limit of %d reached", limits.DailyLimit),
		CurrentUsage: count,
	}
}

// CheckMonthly evaluates the calendar-month window. count is the number
// of entries since the first of the current UTC month.
func CheckMonthly(count int64, now time.Time, limits Limits) Decision {
	if limits.MonthlyLimit <= 0 || count < limits.MonthlyLimit {
		return Decision{Allowed: true, CurrentUsage: count}
	}
	return Decision{
		Allowed:      false,
		ResetAt:      usage.NextMonthStart(now),
		Reason:       ReasonMonthly,
		Message:      fmt.Sprintf("monthly limit of %d reached", limits.MonthlyLimit),
		CurrentUsage: count,
	}
}

// Admit builds the decision for an admitted call. dailyCount is the
// count observed before the reservation insert, so remaining accounts
// for the call being admitted now.
func Admit(dailyCount int64, now time.Time, limits Limits) Decision {
	return Decision{
		Allowed:      true,
		Remaining:    Remaining(limits.DailyLimit, dailyCount+1),
		ResetAt:      usage.NextDayStart(now),
		CurrentUsage: dailyCount + 1,
	}
}

// CheckIP evaluates the trailing-hour gate for a caller IP. This gate is
// orthogonal to the per-user windows and reserves nothing.
func CheckIP(count int64, now time.Time, limits Limits) Decision {
	if limits.IPHourlyLimit <= 0 || count < limits.IPHourlyLimit {
		return Decision{
			Allowed:      true,
			Remaining:    Remaining(limits.IPHourlyLimit, count),
			CurrentUsage: count,
		}
	}
	return Decision{
		Allowed:      false,
		ResetAt:      now.Add(time.Hour),
		Reason:       ReasonIP,
		Message:      fmt.Sprintf("too many requests from this address (limit %d/hour)", limits.IPHourlyLimit),
		CurrentUsage: count,
	}
}
