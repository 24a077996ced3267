/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL for the payment ledger, the plan catalog and the
 * subscription table.
 *
 * Key invariants enforced here:
 * - payment_events is append-only and carries a uniqueness constraint on
 *   (external_event_id, event_type), so a duplicate outcome insert fails loudly
 *   instead of producing a second row.
 * - subscriptions is upserted ON CONFLICT (user_id), preserving row identity
 *   across renewals.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invopay/billing-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// AppendPaymentEvent inserts a new immutable row into the payment ledger.
func (r *PostgresRepository) AppendPaymentEvent(ctx context.Context, event *domain.PaymentEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event payload: %w", err)
	}

	query := `
        INSERT INTO payment_events (id, user_id, external_event_id, event_type, payload, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err = r.db.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.ExternalEventID,
		string(event.Type),
		payload,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append payment event: %w", err)
	}
	return nil
}

// GetPaymentEvent retrieves a ledger row by its correlation key.
func (r *PostgresRepository) GetPaymentEvent(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (*domain.PaymentEvent, error) {
	var event domain.PaymentEvent
	var eventTypeStr string
	var payload []byte

	query := `
        SELECT id, user_id, external_event_id, event_type, payload, created_at
        FROM payment_events
        WHERE external_event_id = $1 AND event_type = $2
        ORDER BY created_at ASC
        LIMIT 1
    `
	err := r.db.QueryRow(ctx, query, externalEventID, string(eventType)).Scan(
		&event.ID,
		&event.UserID,
		&event.ExternalEventID,
		&eventTypeStr,
		&payload,
		&event.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentEventNotFound
		}
		return nil, err
	}
	event.Type = domain.PaymentEventType(eventTypeStr)

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment event payload: %w", err)
		}
	}
	return &event, nil
}

// PaymentEventExists reports whether a ledger row already exists for the given
// correlation key. This is the reconciler's duplicate-detection primitive.
func (r *PostgresRepository) PaymentEventExists(ctx context.Context, externalEventID string, eventType domain.PaymentEventType) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS (
            SELECT 1 FROM payment_events
            WHERE external_event_id = $1 AND event_type = $2
        )
    `
	err := r.db.QueryRow(ctx, query, externalEventID, string(eventType)).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// GetPlanByID retrieves a plan from the catalog.
func (r *PostgresRepository) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	var plan domain.Plan
	query := `SELECT id, name, price_cents, billing_interval FROM plans WHERE id = $1`
	err := r.db.QueryRow(ctx, query, planID).Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.Interval)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// ListPlans returns the full plan catalog.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	query := `SELECT id, name, price_cents, billing_interval FROM plans ORDER BY price_cents ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var plan domain.Plan
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.PriceCents, &plan.Interval); err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// GetSubscriptionByUserID retrieves a subscription for a given user ID.
func (r *PostgresRepository) GetSubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := `
        SELECT id, user_id, plan_id, status, external_receipt_id, current_period_start,
               current_period_end, canceled_at, cancel_at, updated_at
        FROM subscriptions
        WHERE user_id = $1
    `
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.Status,
		&sub.ExternalReceiptID,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CanceledAt,
		&sub.CancelAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription creates a subscription on first activation or updates the
// existing row in place on renewal, preserving the row's identity.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	var saved domain.Subscription
	query := `
        INSERT INTO subscriptions (user_id, plan_id, status, external_receipt_id,
                                   current_period_start, current_period_end, canceled_at, cancel_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id) DO UPDATE SET
            plan_id = EXCLUDED.plan_id,
            status = EXCLUDED.status,
            external_receipt_id = EXCLUDED.external_receipt_id,
            current_period_start = EXCLUDED.current_period_start,
            current_period_end = EXCLUDED.current_period_end,
            canceled_at = EXCLUDED.canceled_at,
            cancel_at = EXCLUDED.cancel_at,
            updated_at = NOW()
        RETURNING id, user_id, plan_id, status, external_receipt_id, current_period_start,
                  current_period_end, canceled_at, cancel_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		sub.UserID,
		sub.PlanID,
		sub.Status,
		sub.ExternalReceiptID,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CanceledAt,
		sub.CancelAt,
	).Scan(
		&saved.ID,
		&saved.UserID,
		&saved.PlanID,
		&saved.Status,
		&saved.ExternalReceiptID,
		&saved.CurrentPeriodStart,
		&saved.CurrentPeriodEnd,
		&saved.CanceledAt,
		&saved.CancelAt,
		&saved.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}
