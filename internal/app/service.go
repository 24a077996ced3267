/**
 * @description
 * This file contains the core business logic of the billing-service: initiating
 * mobile-money charges for subscription plans. The reconciliation of provider
 * callbacks lives in reconcile.go and the client-facing status poll in status.go.
 *
 * The Service depends only on interfaces (repository, provider client, event
 * publisher, rate limiter) so each flow can be exercised with stubs in tests.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/invopay/billing-service/internal/domain"
	"github.com/invopay/billing-service/internal/store"
	"github.com/invopay/billing-service/pkg/darajaclient"
)

const (
	// BillingEventsExchange is the topic exchange payment outcomes are published to.
	BillingEventsExchange = "billing_events"

	subscribeRateLimitScope  = "stk_push"
	subscribeRateLimit       = 3
	subscribeRateLimitWindow = time.Minute
)

// Safaricom subscriber numbers: 12 digits, fixed 254 country prefix.
var phonePattern = regexp.MustCompile(`^254\d{9}$`)

// Sentinel errors surfaced to the API layer.
var (
	ErrInvalidPhoneNumber = errors.New("phone number must be in the format 2547XXXXXXXX")
	ErrUpstreamAuth       = errors.New("failed to authenticate with payment provider")
)

// InitiationError carries the provider's reason for synchronously declining a
// charge request.
type InitiationError struct {
	Reason string
}

func (e *InitiationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment initiation failed: %s", e.Reason)
	}
	return "payment initiation failed"
}

// RateLimitError is returned when a user exceeds the subscribe-endpoint budget.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many charge attempts, retry after %d seconds", e.RetryAfterSeconds)
}

// DarajaAPI is the subset of the provider client the service needs.
type DarajaAPI interface {
	AccessToken(ctx context.Context) (string, error)
	STKPush(ctx context.Context, token, phoneNumber string, amount int64) (*darajaclient.STKPushResponse, error)
	STKQuery(ctx context.Context, token, checkoutRequestID string) (*darajaclient.STKQueryResponse, error)
}

// EventPublisher publishes payment outcome events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// RateLimiter throttles charge initiation per user.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the billing business logic.
type Service struct {
	repo      store.Repository
	daraja    DarajaAPI
	publisher EventPublisher
	limiter   RateLimiter
	now       func() time.Time
}

// NewService creates a new billing service. publisher and limiter may be nil;
// both are optional collaborators.
func NewService(repo store.Repository, daraja DarajaAPI, publisher EventPublisher, limiter RateLimiter) *Service {
	return &Service{
		repo:      repo,
		daraja:    daraja,
		publisher: publisher,
		limiter:   limiter,
		now:       time.Now,
	}
}

// PendingCharge is returned to the caller after a successful initiation. The
// caller is expected to poll ChargeStatus with the checkout request id.
type PendingCharge struct {
	Status            string `json:"status"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

// ChargeAmount converts a plan's minor-unit price into the integer major units
// the provider charges, rounding up so the charge never undercuts the catalog
// price.
func ChargeAmount(priceCents int64) int64 {
	amount := priceCents / 100
	if priceCents%100 != 0 {
		amount++
	}
	return amount
}

// Subscribe initiates a mobile-money charge for the given plan. The 'initiated'
// ledger event is written durably before this function returns success, so a
// later provider callback always has an anchor to correlate against.
func (s *Service) Subscribe(ctx context.Context, userID, planID, phoneNumber string) (*PendingCharge, error) {
	if !phonePattern.MatchString(phoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}

	plan, err := s.repo.GetPlanByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	if err := s.consumeSubscribeBudget(ctx, userID); err != nil {
		return nil, err
	}

	amount := ChargeAmount(plan.PriceCents)

	token, err := s.daraja.AccessToken(ctx)
	if err != nil {
		log.Printf("level=error component=service flow=subscribe user_id=%s msg=\"provider token exchange failed\" error=%v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamAuth, err)
	}

	pushResp, err := s.daraja.STKPush(ctx, token, phoneNumber, amount)
	if err != nil {
		var rejection *darajaclient.RejectionError
		if errors.As(err, &rejection) {
			return nil, &InitiationError{Reason: rejection.Description}
		}
		var apiErr *darajaclient.APIError
		if errors.As(err, &apiErr) {
			return nil, &InitiationError{Reason: apiErr.ErrorMessage}
		}
		return nil, fmt.Errorf("stk push request failed: %w", err)
	}

	// The charge is in flight at the provider from this point on. The
	// initiated event must land before we acknowledge the caller; if the
	// write fails the callback would have nothing to correlate against.
	event := &domain.PaymentEvent{
		UserID:          userID,
		ExternalEventID: pushResp.CheckoutRequestID,
		Type:            domain.PaymentEventInitiated,
		Payload: map[string]interface{}{
			"planId":            planID,
			"phoneNumber":       phoneNumber,
			"amount":            amount,
			"checkoutRequestId": pushResp.CheckoutRequestID,
			"merchantRequestId": pushResp.MerchantRequestID,
		},
	}
	if err := s.repo.AppendPaymentEvent(ctx, event); err != nil {
		log.Printf("level=error component=service flow=subscribe user_id=%s checkout_request_id=%s msg=\"failed to record initiated event for in-flight charge\" error=%v", userID, pushResp.CheckoutRequestID, err)
		return nil, fmt.Errorf("failed to record charge initiation: %w", err)
	}

	log.Printf("level=info component=service flow=subscribe user_id=%s plan_id=%s checkout_request_id=%s amount=%d msg=\"charge initiated\"", userID, planID, pushResp.CheckoutRequestID, amount)

	return &PendingCharge{
		Status:            domain.ChargeStatusPending,
		CheckoutRequestID: pushResp.CheckoutRequestID,
	}, nil
}

// consumeSubscribeBudget applies the per-user STK push rate limit. A nil or
// unreachable limiter never blocks a charge.
func (s *Service) consumeSubscribeBudget(ctx context.Context, userID string) error {
	if s.limiter == nil {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, subscribeRateLimitScope, userID, subscribeRateLimit, subscribeRateLimitWindow)
	if err != nil {
		log.Printf("level=warn component=service flow=subscribe user_id=%s msg=\"rate limiter unavailable, allowing request\" error=%v", userID, err)
		return nil
	}
	if count > subscribeRateLimit {
		return &RateLimitError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

// ListPlans returns the plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx)
}

// SubscriptionStatus is the DTO for the current-subscription endpoint.
type SubscriptionStatus struct {
	Status           string     `json:"status"`
	PlanID           string     `json:"plan_id,omitempty"`
	IsActive         bool       `json:"is_active"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// GetSubscription returns the authenticated user's entitlement state. A missing
// row is reported as inactive, not as an error.
func (s *Service) GetSubscription(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	sub, err := s.repo.GetSubscriptionByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			return &SubscriptionStatus{Status: "inactive"}, nil
		}
		return nil, err
	}

	status := &SubscriptionStatus{
		Status:   sub.Status,
		PlanID:   sub.PlanID,
		IsActive: sub.IsActive(s.now()),
	}
	if status.IsActive {
		status.CurrentPeriodEnd = &sub.CurrentPeriodEnd
	}
	return status, nil
}
