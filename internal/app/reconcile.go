/**
 * @description
 * This file implements the callback reconciler: the handler-facing logic that
 * applies a provider callback to the payment ledger and the subscription table.
 *
 * Key invariants:
 * - The ledger is the idempotency boundary. An outcome is recorded under
 *   '<correlationID>_success' or '<correlationID>_failed' at most once; a
 *   redelivered callback finds the key already present and becomes a no-op.
 * - A callback whose correlation id matches no initiated event is benign. It is
 *   logged and dropped; the transport layer still acknowledges the provider.
 * - Reconcile never rejects work back to the provider. Errors it returns are
 *   for logging only; the HTTP layer acknowledges regardless.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/invopay/billing-service/internal/domain"
	"github.com/invopay/billing-service/internal/store"
)

// Reconcile applies a provider callback to the ledger and, on success,
// activates the paying user's subscription.
func (s *Service) Reconcile(ctx context.Context, result domain.CallbackResult) error {
	initiated, err := s.repo.GetPaymentEvent(ctx, result.CorrelationID, domain.PaymentEventInitiated)
	if err != nil {
		if errors.Is(err, store.ErrPaymentEventNotFound) {
			// Unknown correlation id: a replay after data loss or a foreign
			// event. Nothing actionable; the provider still gets an ack.
			log.Printf("level=warn component=service flow=reconcile checkout_request_id=%s msg=\"callback matched no initiated event, ignoring\"", result.CorrelationID)
			return nil
		}
		return fmt.Errorf("failed to look up initiated event: %w", err)
	}

	if result.Succeeded {
		return s.reconcileSuccess(ctx, initiated, result)
	}
	return s.reconcileFailure(ctx, initiated, result)
}

// reconcileSuccess records the confirmed charge and activates the subscription.
func (s *Service) reconcileSuccess(ctx context.Context, initiated *domain.PaymentEvent, result domain.CallbackResult) error {
	successKey := domain.SuccessEventID(result.CorrelationID)

	// Provider-side webhook redelivery: if the success event already exists
	// this callback has been fully processed, including activation.
	exists, err := s.repo.PaymentEventExists(ctx, successKey, domain.PaymentEventSuccess)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate success event: %w", err)
	}
	if exists {
		log.Printf("level=info component=service flow=reconcile checkout_request_id=%s msg=\"duplicate success callback, already reconciled\"", result.CorrelationID)
		return nil
	}

	event := &domain.PaymentEvent{
		UserID:          initiated.UserID,
		ExternalEventID: successKey,
		Type:            domain.PaymentEventSuccess,
		Payload: map[string]interface{}{
			"checkoutRequestId": result.CorrelationID,
			"amount":            result.Amount,
			"receiptNumber":     result.ReceiptNumber,
			"transactionDate":   result.TransactionDate,
			"phoneNumber":       result.PhoneNumber,
		},
	}
	if err := s.repo.AppendPaymentEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record success event: %w", err)
	}

	planID := payloadString(initiated.Payload, "planId")
	if err := s.activateSubscription(ctx, initiated.UserID, planID, result.ReceiptNumber); err != nil {
		return fmt.Errorf("failed to activate subscription for user %s: %w", initiated.UserID, err)
	}

	log.Printf("level=info component=service flow=reconcile checkout_request_id=%s user_id=%s receipt=%s msg=\"charge confirmed, subscription activated\"", result.CorrelationID, initiated.UserID, result.ReceiptNumber)

	s.publishOutcome(ctx, "billing.subscription.activated", domain.PaymentOutcomeEvent{
		EventID:           uuid.NewString(),
		EventType:         "subscription.activated",
		UserID:            initiated.UserID,
		PlanID:            planID,
		CheckoutRequestID: result.CorrelationID,
		Amount:            int64(result.Amount),
		ReceiptNumber:     result.ReceiptNumber,
		OccurredAt:        s.now(),
	})
	return nil
}

// reconcileFailure records the denied charge. Failures never touch the
// subscription table.
func (s *Service) reconcileFailure(ctx context.Context, initiated *domain.PaymentEvent, result domain.CallbackResult) error {
	failureKey := domain.FailureEventID(result.CorrelationID)

	exists, err := s.repo.PaymentEventExists(ctx, failureKey, domain.PaymentEventFailure)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate failure event: %w", err)
	}
	if exists {
		log.Printf("level=info component=service flow=reconcile checkout_request_id=%s msg=\"duplicate failure callback, already recorded\"", result.CorrelationID)
		return nil
	}

	event := &domain.PaymentEvent{
		UserID:          initiated.UserID,
		ExternalEventID: failureKey,
		Type:            domain.PaymentEventFailure,
		Payload: map[string]interface{}{
			"checkoutRequestId": result.CorrelationID,
			"resultCode":        result.ResultCode,
			"resultDesc":        result.ResultDesc,
		},
	}
	if err := s.repo.AppendPaymentEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to record failure event: %w", err)
	}

	log.Printf("level=info component=service flow=reconcile checkout_request_id=%s user_id=%s result_code=%d msg=\"charge failed: %s\"", result.CorrelationID, initiated.UserID, result.ResultCode, result.ResultDesc)

	s.publishOutcome(ctx, "billing.payment.failed", domain.PaymentOutcomeEvent{
		EventID:           uuid.NewString(),
		EventType:         "payment.failed",
		UserID:            initiated.UserID,
		PlanID:            payloadString(initiated.Payload, "planId"),
		CheckoutRequestID: result.CorrelationID,
		Reason:            result.ResultDesc,
		OccurredAt:        s.now(),
	})
	return nil
}

// activateSubscription creates or extends the user's entitlement. The period is
// derived from the plan's billing interval at activation time; activations are
// monotonic in time, so a concurrent stale activation is superseded rather than
// regressing state.
func (s *Service) activateSubscription(ctx context.Context, userID, planID, receiptNumber string) error {
	plan, err := s.repo.GetPlanByID(ctx, planID)
	if err != nil {
		return fmt.Errorf("failed to resolve plan %q: %w", planID, err)
	}

	now := s.now()
	sub := &domain.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             "active",
		ExternalReceiptID:  receiptNumber,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   domain.PeriodEnd(now, plan.Interval),
		// A successful payment clears any pending cancellation.
		CanceledAt: nil,
		CancelAt:   nil,
	}
	_, err = s.repo.UpsertSubscription(ctx, sub)
	return err
}

// publishOutcome emits a payment outcome event. Delivery is best-effort:
// failures are logged and never propagate into the reconciliation result.
func (s *Service) publishOutcome(ctx context.Context, routingKey string, event domain.PaymentOutcomeEvent) {
	if s.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(publishCtx, BillingEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service flow=reconcile routing_key=%s msg=\"failed to publish outcome event\" error=%v", routingKey, err)
	}
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
