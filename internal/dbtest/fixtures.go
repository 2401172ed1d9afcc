package dbtest

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/payflow/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	"gorm.io/gorm"
)

// Billing is a customer subscribed to a daily plan with its first invoice open.
type Billing struct {
	Customer     customerdomain.Customer
	Plan         plandomain.Plan
	Subscription subscriptiondomain.Subscription
	Invoice      invoicedomain.Invoice
}

// SeedBilling inserts a PENDING subscription whose first period starts at start.
func SeedBilling(t testing.TB, conn *gorm.DB, node *snowflake.Node, start time.Time, amountCents int64) Billing {
	t.Helper()
	start = start.UTC()

	plan := plandomain.Plan{
		ID:            node.Generate(),
		Name:          "Daily",
		AmountCents:   amountCents,
		Currency:      "USD",
		IntervalUnit:  plandomain.IntervalDay,
		IntervalCount: 1,
		CreatedAt:     start,
	}
	end := plan.NextPeriodEnd(start)

	b := Billing{
		Customer: customerdomain.Customer{
			ID:        node.Generate(),
			Email:     "billing@example.com",
			CreatedAt: start,
		},
		Plan: plan,
	}
	b.Subscription = subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		CustomerID:         b.Customer.ID,
		PlanID:             plan.ID,
		Status:             subscriptiondomain.SubscriptionStatusPending,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	b.Invoice = invoicedomain.Invoice{
		ID:             node.Generate(),
		SubscriptionID: b.Subscription.ID,
		AmountCents:    amountCents,
		Currency:       "USD",
		Status:         invoicedomain.InvoiceStatusPending,
		PeriodStart:    start,
		PeriodEnd:      end,
		CreatedAt:      start,
		UpdatedAt:      start,
	}

	for _, model := range []any{&b.Customer, &b.Plan, &b.Subscription, &b.Invoice} {
		if err := conn.Create(model).Error; err != nil {
			t.Fatalf("seed %T: %v", model, err)
		}
	}
	return b
}
