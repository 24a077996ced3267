/**
 * @description
 * This file defines the subscription and plan domain models. A user has at most
 * one subscription row, created on the first successful payment and updated in
 * place on every renewal. Plans are a read-only catalog consulted for pricing
 * and billing intervals.
 */
package domain

import "time"

// Plan is a catalog entry. PriceCents is in minor currency units.
type Plan struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Interval   string `json:"interval"` // 'month' or 'year'
}

// Subscription represents a user's current entitlement state.
type Subscription struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"` // 'active'; absence of a row means inactive
	ExternalReceiptID  string     `json:"external_receipt_id"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CancelAt           *time.Time `json:"cancel_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription entitles the user right now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s != nil && s.Status == "active" && s.CurrentPeriodEnd.After(now)
}

// PeriodEnd computes the end of a billing period starting at 'start' for the
// given plan interval. Anything other than 'year' bills monthly.
func PeriodEnd(start time.Time, interval string) time.Time {
	if interval == "year" {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
