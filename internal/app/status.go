/**
 * @description
 * This file implements the status poller: the read path clients use to ask what
 * happened to a previously initiated charge. Locally recorded outcomes win; the
 * provider is only queried when neither a success nor a failure event has
 * landed. This path never writes to the ledger — appending outcomes belongs
 * exclusively to the reconciler, so two paths can never race to activate the
 * same subscription.
 */
package app

import (
	"context"
	"errors"
	"log"

	"github.com/invopay/billing-service/internal/domain"
	"github.com/invopay/billing-service/internal/store"
)

// ChargeStatus reports the state of a charge. Upstream errors degrade to
// 'pending' rather than propagating; the caller is expected to poll again.
func (s *Service) ChargeStatus(ctx context.Context, checkoutRequestID string) (*domain.ChargeStatus, error) {
	successEvent, err := s.repo.GetPaymentEvent(ctx, domain.SuccessEventID(checkoutRequestID), domain.PaymentEventSuccess)
	if err == nil {
		return &domain.ChargeStatus{
			Status:        domain.ChargeStatusCompleted,
			Message:       "Payment completed successfully",
			ReceiptNumber: payloadString(successEvent.Payload, "receiptNumber"),
		}, nil
	}
	if !errors.Is(err, store.ErrPaymentEventNotFound) {
		return nil, err
	}

	failureEvent, err := s.repo.GetPaymentEvent(ctx, domain.FailureEventID(checkoutRequestID), domain.PaymentEventFailure)
	if err == nil {
		message := payloadString(failureEvent.Payload, "resultDesc")
		if message == "" {
			message = "Payment failed"
		}
		return &domain.ChargeStatus{
			Status:  domain.ChargeStatusFailed,
			Message: message,
		}, nil
	}
	if !errors.Is(err, store.ErrPaymentEventNotFound) {
		return nil, err
	}

	// No outcome recorded yet, fall back to a synchronous provider query.
	return s.queryUpstreamStatus(ctx, checkoutRequestID), nil
}

// queryUpstreamStatus asks the provider directly. Every upstream failure mode
// maps to 'pending': a timeout or auth failure says nothing definitive about
// the charge itself.
func (s *Service) queryUpstreamStatus(ctx context.Context, checkoutRequestID string) *domain.ChargeStatus {
	pending := &domain.ChargeStatus{
		Status:  domain.ChargeStatusPending,
		Message: "Payment is still being processed",
	}

	token, err := s.daraja.AccessToken(ctx)
	if err != nil {
		log.Printf("level=warn component=service flow=status checkout_request_id=%s msg=\"token exchange failed, reporting pending\" error=%v", checkoutRequestID, err)
		return pending
	}

	queryResp, err := s.daraja.STKQuery(ctx, token, checkoutRequestID)
	if err != nil {
		log.Printf("level=warn component=service flow=status checkout_request_id=%s msg=\"status query failed, reporting pending\" error=%v", checkoutRequestID, err)
		return pending
	}

	switch {
	case queryResp.ResultCode == "0":
		return &domain.ChargeStatus{
			Status:  domain.ChargeStatusCompleted,
			Message: "Payment completed successfully",
		}
	case queryResp.ResultCode != "":
		message := queryResp.ResultDesc
		if message == "" {
			message = "Payment failed"
		}
		return &domain.ChargeStatus{
			Status:  domain.ChargeStatusFailed,
			Message: message,
		}
	default:
		return pending
	}
}
