/**
 * @description
 * This file contains the HTTP handler functions for the billing-service.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response.
 *
 * The callback handler is the one deliberate exception to normal error
 * propagation: once the body passes shape validation, it acknowledges the
 * provider with ResultCode 0 no matter what happens during reconciliation.
 * The provider cannot distinguish "processed and failed internally" from
 * "not processed yet", and a negative acknowledgment would trigger redelivery
 * and risk duplicate financial side effects. Internal failures surface through
 * logs, not through the protocol.
 */
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/invopay/billing-service/internal/app"
	"github.com/invopay/billing-service/internal/domain"
	"github.com/invopay/billing-service/internal/store"
)

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// callbackAck is the acknowledgment body the payment provider expects.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// handleSubscribe starts a mobile-money charge for a subscription plan.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		PlanID      string `json:"planId"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PlanID == "" || req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "planId and phoneNumber are required")
		return
	}

	pending, err := h.service.Subscribe(r.Context(), userID, req.PlanID, req.PhoneNumber)
	if err != nil {
		h.respondSubscribeError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, pending)
}

// respondSubscribeError maps service errors to the smallest-blast-radius HTTP
// status that is still accurate.
func (h *Handler) respondSubscribeError(w http.ResponseWriter, err error) {
	var initiationErr *app.InitiationError
	var rateLimitErr *app.RateLimitError

	switch {
	case errors.Is(err, app.ErrInvalidPhoneNumber):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrPlanNotFound):
		respondWithError(w, http.StatusNotFound, "Plan not found")
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfterSeconds))
		respondWithError(w, http.StatusTooManyRequests, rateLimitErr.Error())
	case errors.Is(err, app.ErrUpstreamAuth):
		respondWithError(w, http.StatusBadGateway, "Payment provider authentication failed")
	case errors.As(err, &initiationErr):
		reason := initiationErr.Reason
		if reason == "" {
			reason = "Payment failed"
		}
		respondWithError(w, http.StatusUnprocessableEntity, reason)
	default:
		log.Printf("level=error component=api handler=subscribe error=%v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to initiate payment")
	}
}

// handleChargeStatus reports the state of a previously initiated charge.
func (h *Handler) handleChargeStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserFromContext(r.Context()); !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		CheckoutRequestID string `json:"checkoutRequestId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CheckoutRequestID == "" {
		respondWithError(w, http.StatusBadRequest, "checkoutRequestId is required")
		return
	}

	status, err := h.service.ChargeStatus(r.Context(), req.CheckoutRequestID)
	if err != nil {
		log.Printf("level=error component=api handler=charge_status checkout_request_id=%s error=%v", req.CheckoutRequestID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to check payment status")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// handlePaymentCallback receives the payment provider's asynchronous charge
// result. It is unauthenticated by design; see the file header.
func (h *Handler) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var envelope domain.STKCallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil || !envelope.Valid() {
		log.Printf("level=warn component=api handler=payment_callback msg=\"malformed callback body rejected\"")
		respondWithJSON(w, http.StatusBadRequest, callbackAck{ResultCode: 1, ResultDesc: "Invalid callback format"})
		return
	}

	result := envelope.Body.STKCallback.ToResult()
	if err := h.service.Reconcile(r.Context(), result); err != nil {
		// Still acknowledged: redelivery cannot fix an internal failure and
		// would risk duplicate processing. Alert on this log line instead.
		log.Printf("level=error component=api handler=payment_callback checkout_request_id=%s msg=\"reconciliation failed, acknowledging anyway\" error=%v", result.CorrelationID, err)
	}

	respondWithJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// handleGetSubscription returns the authenticated user's subscription state.
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api handler=get_subscription user_id=%s error=%v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load subscription")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// handleListPlans returns the plan catalog.
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		log.Printf("level=error component=api handler=list_plans error=%v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load plans")
		return
	}

	respondWithJSON(w, http.StatusOK, plans)
}

// respondWithError writes a JSON error body with the given status code.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
