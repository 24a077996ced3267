package domain

import (
	"testing"
	"time"
)

func TestPeriodEnd(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval string
		want     time.Time
	}{
		{name: "yearly plan", interval: "year", want: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "monthly plan", interval: "month", want: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
		{name: "unknown interval bills monthly", interval: "fortnight", want: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
		{name: "empty interval bills monthly", interval: "", want: time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeriodEnd(start, tt.interval)
			if !got.Equal(tt.want) {
				t.Fatalf("PeriodEnd(%v, %q) = %v, want %v", start, tt.interval, got, tt.want)
			}
		})
	}
}

func TestEventIDSuffixes(t *testing.T) {
	if got := SuccessEventID("ws_CO_1"); got != "ws_CO_1_success" {
		t.Fatalf("SuccessEventID = %q", got)
	}
	if got := FailureEventID("ws_CO_1"); got != "ws_CO_1_failed" {
		t.Fatalf("FailureEventID = %q", got)
	}
}

func TestSubscriptionIsActive(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{name: "nil subscription", sub: nil, want: false},
		{
			name: "active within period",
			sub:  &Subscription{Status: "active", CurrentPeriodEnd: now.AddDate(0, 0, 10)},
			want: true,
		},
		{
			name: "active but period elapsed",
			sub:  &Subscription{Status: "active", CurrentPeriodEnd: now.AddDate(0, 0, -1)},
			want: false,
		},
		{
			name: "inactive status",
			sub:  &Subscription{Status: "inactive", CurrentPeriodEnd: now.AddDate(0, 0, 10)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.IsActive(now); got != tt.want {
				t.Fatalf("IsActive = %t, want %t", got, tt.want)
			}
		})
	}
}
