/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the billing-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/invopay/billing-service/internal/domain"
)

// Sentinel errors returned by repository implementations.
var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentEventNotFound = errors.New("payment event not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment ledger methods. The ledger is append-only: events are inserted
	// once and never updated or deleted.
	AppendPaymentEvent(ctx context.Context, event *domain.PaymentEvent) error
	GetPaymentEvent(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (*domain.PaymentEvent, error)
	PaymentEventExists(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (bool, error)

	// Plan catalog methods (read-only).
	GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)

	// Subscription methods
	GetSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
}
