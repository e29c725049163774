package timeutil

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAreDatesEqualToMinute(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b time.Time
		want bool
	}{
		{"same instant", base, base, true},
		{"seconds differ", base.Add(5 * time.Second), base.Add(59 * time.Second), true},
		{"milliseconds differ", base.Add(time.Millisecond), base.Add(999 * time.Millisecond), true},
		{"next minute", base.Add(59 * time.Second), base.Add(time.Minute), false},
		{"previous minute", base.Add(-time.Second), base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AreDatesEqualToMinute(tt.a, tt.b))
		})
	}
}

func TestIsDateInFuture(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 30, 25, 0, time.UTC)

	assert.False(t, IsDateInFuture(now, now))
	assert.True(t, IsDateInFuture(now.Add(time.Minute), now))
	assert.False(t, IsDateInFuture(now.Add(-time.Minute), now))
	// Later in the same minute is not the future
	assert.False(t, IsDateInFuture(now.Add(30*time.Second), now))
}

func TestIsWithinHours(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.True(t, IsWithinHours(start.Add(8*time.Hour), start, 8*time.Hour))
	assert.True(t, IsWithinHours(start.Add(time.Hour), start, 8*time.Hour))
	assert.False(t, IsWithinHours(start.Add(8*time.Hour+time.Minute), start, 8*time.Hour))
}

func TestFromLocal(t *testing.T) {
	// 15:00 in UTC+2 is 13:00 UTC
	got, err := FromLocal("2025-03-10T15:00", -120)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), got)

	// 08:30 in UTC-5 is 13:30 UTC
	got, err = FromLocal("2025-03-10T08:30:00", 300)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC), got)

	_, err = FromLocal("not a date", 0)
	assert.Error(t, err)

	_, err = FromLocal("2025-13-40T25:00", 0)
	assert.Error(t, err)
}

func TestCalendarStarts(t *testing.T) {
	// Thursday
	ts := time.Date(2025, 3, 13, 17, 45, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), StartOfWeek(ts))
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(ts))

	// Sunday belongs to the week that started on the previous Monday
	sunday := time.Date(2025, 3, 16, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), StartOfWeek(sunday))
}

func TestBillingPeriodStart(t *testing.T) {
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"after anchor day", time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC), time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"before anchor day", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)},
		{"on anchor day", time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BillingPeriodStart(anchor, tt.now))
		})
	}

	// Day 31 clamps to the end of February
	endOfMonth := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	got := BillingPeriodStart(endOfMonth, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), got)

	// Anchor in the future walks backwards
	future := time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC)
	got = BillingPeriodStart(future, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), got)
}

func TestCeilCents(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.231", "1.24"},
		{"1.2300", "1.23"},
		{"0.001", "0.01"},
		{"0", "0"},
		{"2.5", "2.5"},
	}
	for _, tt := range tests {
		got := CeilCents(decimal.RequireFromString(tt.in))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "CeilCents(%s) = %s, want %s", tt.in, got, tt.want)
	}
}
