package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/invopay/billing-service/internal/app"
	"github.com/invopay/billing-service/internal/domain"
	"github.com/invopay/billing-service/internal/store"
	"github.com/invopay/billing-service/pkg/darajaclient"
)

// callbackRepoStub backs the webhook handler tests. Only the methods the
// reconciliation flow touches are implemented.
type callbackRepoStub struct {
	store.Repository

	initiated *domain.PaymentEvent
	appended  []*domain.PaymentEvent
	appendErr error
	plan      *domain.Plan
	upserts   int
}

func (s *callbackRepoStub) GetPaymentEvent(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (*domain.PaymentEvent, error) {
	if s.initiated != nil && s.initiated.ExternalEventID == externalEventID && s.initiated.Type == eventType {
		return s.initiated, nil
	}
	for _, ev := range s.appended {
		if ev.ExternalEventID == externalEventID && ev.Type == eventType {
			return ev, nil
		}
	}
	return nil, store.ErrPaymentEventNotFound
}

func (s *callbackRepoStub) PaymentEventExists(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (bool, error) {
	_, err := s.GetPaymentEvent(ctx, externalEventID, eventType)
	if errors.Is(err, store.ErrPaymentEventNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *callbackRepoStub) AppendPaymentEvent(ctx context.Context, event *domain.PaymentEvent) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, event)
	return nil
}

func (s *callbackRepoStub) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	if s.plan != nil && s.plan.ID == planID {
		return s.plan, nil
	}
	return nil, store.ErrPlanNotFound
}

func (s *callbackRepoStub) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	s.upserts++
	return sub, nil
}

type darajaStub struct{}

func (darajaStub) AccessToken(ctx context.Context) (string, error) {
	return "", errors.New("provider unavailable in tests")
}

func (darajaStub) STKPush(ctx context.Context, token, phoneNumber string, amount int64) (*darajaclient.STKPushResponse, error) {
	return nil, errors.New("provider unavailable in tests")
}

func (darajaStub) STKQuery(ctx context.Context, token, checkoutRequestID string) (*darajaclient.STKQueryResponse, error) {
	return nil, errors.New("provider unavailable in tests")
}

func newCallbackHandler(repo *callbackRepoStub) *Handler {
	return NewHandler(app.NewService(repo, darajaStub{}, nil, nil))
}

func postCallback(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.handlePaymentCallback(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) callbackAck {
	t.Helper()
	var ack callbackAck
	if err := json.NewDecoder(rec.Body).Decode(&ack); err != nil {
		t.Fatalf("failed to decode ack body: %v", err)
	}
	return ack
}

func TestHandlePaymentCallback_MalformedBodyRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not-json"},
		{name: "empty object", body: `{}`},
		{name: "missing stkCallback", body: `{"Body":{}}`},
		{name: "missing checkout id", body: `{"Body":{"stkCallback":{"ResultCode":0}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &callbackRepoStub{}
			rec := postCallback(t, newCallbackHandler(repo), tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			ack := decodeAck(t, rec)
			if ack.ResultCode != 1 || ack.ResultDesc != "Invalid callback format" {
				t.Fatalf("unexpected rejection body %+v", ack)
			}
		})
	}
}

func TestHandlePaymentCallback_UnknownCorrelationStillAccepted(t *testing.T) {
	repo := &callbackRepoStub{}
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ghost123","ResultCode":0,"ResultDesc":"ok"}}}`

	rec := postCallback(t, newCallbackHandler(repo), body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	ack := decodeAck(t, rec)
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Fatalf("unexpected ack body %+v", ack)
	}
	if len(repo.appended) != 0 || repo.upserts != 0 {
		t.Fatal("expected no event or subscription mutation for unknown correlation")
	}
}

func TestHandlePaymentCallback_SuccessActivates(t *testing.T) {
	repo := &callbackRepoStub{
		initiated: &domain.PaymentEvent{
			UserID:          "user-1",
			ExternalEventID: "ws_CO_1",
			Type:            domain.PaymentEventInitiated,
			Payload:         map[string]interface{}{"planId": "basic"},
		},
		plan: &domain.Plan{ID: "basic", PriceCents: 50000, Interval: "month"},
	}
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":"ABC123"}]}}}}`

	rec := postCallback(t, newCallbackHandler(repo), body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ack := decodeAck(t, rec); ack.ResultCode != 0 {
		t.Fatalf("expected ResultCode 0, got %d", ack.ResultCode)
	}
	if repo.upserts != 1 {
		t.Fatalf("expected one activation, got %d", repo.upserts)
	}
	if len(repo.appended) != 1 || repo.appended[0].Type != domain.PaymentEventSuccess {
		t.Fatalf("expected one success event, got %+v", repo.appended)
	}
}

func TestHandlePaymentCallback_InternalErrorStillAcknowledged(t *testing.T) {
	repo := &callbackRepoStub{
		initiated: &domain.PaymentEvent{
			UserID:          "user-1",
			ExternalEventID: "ws_CO_1",
			Type:            domain.PaymentEventInitiated,
			Payload:         map[string]interface{}{"planId": "basic"},
		},
		appendErr: errors.New("database unavailable"),
	}
	body := `{"Body":{"stkCallback":{"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`

	rec := postCallback(t, newCallbackHandler(repo), body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite internal failure, got %d", rec.Code)
	}
	ack := decodeAck(t, rec)
	if ack.ResultCode != 0 || ack.ResultDesc != "Accepted" {
		t.Fatalf("expected acceptance ack despite internal failure, got %+v", ack)
	}
}

func TestHandleSubscribe_RequiresAuthentication(t *testing.T) {
	h := newCallbackHandler(&callbackRepoStub{})
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/subscribe", bytes.NewBufferString(`{"planId":"basic","phoneNumber":"254712345678"}`))
	rec := httptest.NewRecorder()

	h.handleSubscribe(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without auth context, got %d", rec.Code)
	}
}

func TestHandleSubscribe_ErrorMapping(t *testing.T) {
	repo := &callbackRepoStub{plan: &domain.Plan{ID: "basic", PriceCents: 50000, Interval: "month"}}
	h := newCallbackHandler(repo)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "invalid phone", body: `{"planId":"basic","phoneNumber":"0712345678"}`, wantCode: http.StatusBadRequest},
		{name: "unknown plan", body: `{"planId":"ghost","phoneNumber":"254712345678"}`, wantCode: http.StatusNotFound},
		{name: "missing fields", body: `{}`, wantCode: http.StatusBadRequest},
		// darajaStub fails the token exchange, which surfaces as 502.
		{name: "upstream auth failure", body: `{"planId":"basic","phoneNumber":"254712345678"}`, wantCode: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/subscriptions/subscribe", bytes.NewBufferString(tt.body))
			req = req.WithContext(context.WithValue(req.Context(), authUserIDKey, "user-1"))
			rec := httptest.NewRecorder()

			h.handleSubscribe(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d (body: %s)", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleChargeStatus_ReturnsRecordedOutcome(t *testing.T) {
	repo := &callbackRepoStub{}
	repo.appended = append(repo.appended, &domain.PaymentEvent{
		ExternalEventID: domain.SuccessEventID("ws_CO_1"),
		Type:            domain.PaymentEventSuccess,
		Payload:         map[string]interface{}{"receiptNumber": "ABC123"},
		CreatedAt:       time.Now(),
	})
	h := newCallbackHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/subscriptions/status", bytes.NewBufferString(`{"checkoutRequestId":"ws_CO_1"}`))
	req = req.WithContext(context.WithValue(req.Context(), authUserIDKey, "user-1"))
	rec := httptest.NewRecorder()

	h.handleChargeStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status domain.ChargeStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status body: %v", err)
	}
	if status.Status != domain.ChargeStatusCompleted || status.ReceiptNumber != "ABC123" {
		t.Fatalf("unexpected status %+v", status)
	}
}
