package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/dbtest"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/payflow/internal/invoice/repository"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/payflow/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/payflow/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/payflow/internal/payment/repository"
	providereventdomain "github.com/smallbiznis/payflow/internal/providerevent/domain"
	providereventrepository "github.com/smallbiznis/payflow/internal/providerevent/repository"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/payflow/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	proc    Processor
	billing dbtest.Billing
	ledger  ledgerdomain.Service
}

func setupProcessor(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start.Add(time.Hour))
	log := zap.NewNop()

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepository.Provide(),
	})
	proc := New(Params{
		DB:               db,
		Log:              log,
		GenID:            node,
		Clock:            clk,
		RuntimeConfig:    config.NewStaticRuntimeConfigHolder(config.DefaultRuntimeConfig()),
		EventRepo:        providereventrepository.Provide(),
		InvoiceRepo:      invoicerepository.Provide(),
		SubscriptionRepo: subscriptionrepository.Provide(),
		PaymentRepo:      paymentrepository.Provide(),
		Ledger:           ledger,
	})

	return &testEnv{
		db:      db,
		node:    node,
		clock:   clk,
		proc:    proc,
		billing: dbtest.SeedBilling(t, db, node, start, 1500),
		ledger:  ledger,
	}
}

func (e *testEnv) storeEvent(t *testing.T, eventID, eventType, data string) {
	t.Helper()
	raw := fmt.Sprintf(`{"event_id":%q,"type":%q,"data":%s}`, eventID, eventType, data)
	inserted, err := providereventrepository.Provide().InsertIfAbsent(context.Background(), e.db, &providereventdomain.ProviderEvent{
		ID:         e.node.Generate(),
		EventID:    eventID,
		Type:       eventType,
		RawPayload: datatypes.JSON(raw),
		Status:     providereventdomain.EventStatusReceived,
		ReceivedAt: e.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, inserted)
}

func (e *testEnv) invoiceData() string {
	return fmt.Sprintf(`{"invoice_id":"%s","provider_payment_id":"pi_1"}`, e.billing.Invoice.ID)
}

func (e *testEnv) invoice(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := invoicerepository.Provide().FindByID(context.Background(), e.db, e.billing.Invoice.ID)
	require.NoError(t, err)
	require.NotNil(t, invoice)
	return invoice
}

func (e *testEnv) subscription(t *testing.T) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := subscriptionrepository.Provide().FindByID(context.Background(), e.db, e.billing.Subscription.ID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	return sub
}

func (e *testEnv) payments(t *testing.T) []paymentdomain.Payment {
	t.Helper()
	payments, err := paymentrepository.Provide().ListByInvoice(context.Background(), e.db, e.billing.Invoice.ID)
	require.NoError(t, err)
	return payments
}

func (e *testEnv) ledgerTransactions(t *testing.T, ref string) []ledgerdomain.LedgerTransaction {
	t.Helper()
	txns, err := ledgerrepository.Provide().ListTransactionsByExternalRef(context.Background(), e.db, ref)
	require.NoError(t, err)
	return txns
}

func TestPaymentSucceededSettlesInvoice(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	env.storeEvent(t, "evt_paid", "payment_succeeded", env.invoiceData())

	require.NoError(t, env.proc.Process(ctx, "evt_paid"))

	invoice := env.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)
	assert.True(t, invoice.PaidAt.Equal(env.clock.Now()))

	sub := env.subscription(t)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodStart.Equal(invoice.PeriodStart))
	assert.True(t, sub.CurrentPeriodEnd.Equal(invoice.PeriodEnd))

	payments := env.payments(t)
	require.Len(t, payments, 1)
	assert.Equal(t, paymentdomain.PaymentStatusSucceeded, payments[0].Status)
	assert.Equal(t, int64(1500), payments[0].AmountCents)
	assert.Equal(t, "USD", payments[0].Currency)
	require.NotNil(t, payments[0].ProviderPaymentID)
	assert.Equal(t, "pi_1", *payments[0].ProviderPaymentID)

	ref := "invoice:" + env.billing.Invoice.ID.String()
	require.Len(t, env.ledgerTransactions(t, ref), 1)
	entries, err := env.ledger.ListEntriesByExternalRef(ctx, ref)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NoError(t, ledgerdomain.EnsureBalanced(entries))

	event, err := providereventrepository.Provide().FindByEventID(ctx, env.db, "evt_paid")
	require.NoError(t, err)
	assert.Equal(t, providereventdomain.EventStatusProcessing, event.Status)
}

func TestPaymentSucceededIsNoOpWhenSettled(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	env.storeEvent(t, "evt_1", "payment_succeeded", env.invoiceData())
	env.storeEvent(t, "evt_2", "payment_succeeded", env.invoiceData())

	require.NoError(t, env.proc.Process(ctx, "evt_1"))
	require.NoError(t, env.proc.Process(ctx, "evt_2"))

	assert.Len(t, env.payments(t), 1)
	assert.Len(t, env.ledgerTransactions(t, "invoice:"+env.billing.Invoice.ID.String()), 1)
}

func TestPaymentSucceededUsesEventAmountAndCurrency(t *testing.T) {
	env := setupProcessor(t)
	data := fmt.Sprintf(`{"invoice_id":%s,"amount_cents":1200,"currency":"eur"}`, env.billing.Invoice.ID)
	env.storeEvent(t, "evt_partial", "payment_succeeded", data)

	require.NoError(t, env.proc.Process(context.Background(), "evt_partial"))

	payments := env.payments(t)
	require.Len(t, payments, 1)
	assert.Equal(t, int64(1200), payments[0].AmountCents)
	assert.Equal(t, "EUR", payments[0].Currency)
	assert.Nil(t, payments[0].ProviderPaymentID)
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	env := setupProcessor(t)
	env.storeEvent(t, "evt_failed", "payment_failed", env.invoiceData())

	require.NoError(t, env.proc.Process(context.Background(), "evt_failed"))

	invoice := env.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, invoice.Status)
	assert.Nil(t, invoice.PaidAt)

	sub := env.subscription(t)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(env.billing.Invoice.PeriodEnd))

	payments := env.payments(t)
	require.Len(t, payments, 1)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, payments[0].Status)
	assert.Empty(t, env.ledgerTransactions(t, "invoice:"+env.billing.Invoice.ID.String()))
}

func TestPaymentFailedAfterPaymentIsIgnored(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	env.storeEvent(t, "evt_paid", "payment_succeeded", env.invoiceData())
	env.storeEvent(t, "evt_late_failure", "payment_failed", env.invoiceData())

	require.NoError(t, env.proc.Process(ctx, "evt_paid"))
	require.NoError(t, env.proc.Process(ctx, "evt_late_failure"))

	assert.Equal(t, invoicedomain.InvoiceStatusPaid, env.invoice(t).Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, env.subscription(t).Status)
	assert.Len(t, env.payments(t), 1)
}

func TestRefundSucceededKeepsPaidAt(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	env.storeEvent(t, "evt_paid", "payment_succeeded", env.invoiceData())
	env.storeEvent(t, "evt_refund", "refund_succeeded", env.invoiceData())

	require.NoError(t, env.proc.Process(ctx, "evt_paid"))
	paidAt := env.invoice(t).PaidAt
	require.NotNil(t, paidAt)

	env.clock.Advance(time.Hour)
	require.NoError(t, env.proc.Process(ctx, "evt_refund"))

	invoice := env.invoice(t)
	assert.Equal(t, invoicedomain.InvoiceStatusRefunded, invoice.Status)
	require.NotNil(t, invoice.PaidAt)
	assert.True(t, invoice.PaidAt.Equal(*paidAt))

	payments := env.payments(t)
	require.Len(t, payments, 2)
	assert.Equal(t, paymentdomain.PaymentStatusRefunded, payments[1].Status)

	ref := "refund:" + env.billing.Invoice.ID.String()
	require.Len(t, env.ledgerTransactions(t, ref), 1)
	entries, err := env.ledger.ListEntriesByExternalRef(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, ledgerdomain.EnsureBalanced(entries))
}

func TestRefundRequiresPaidInvoice(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	env.storeEvent(t, "evt_refund", "refund_succeeded", env.invoiceData())

	require.NoError(t, env.proc.Process(ctx, "evt_refund"))

	assert.Equal(t, invoicedomain.InvoiceStatusPending, env.invoice(t).Status)
	assert.Empty(t, env.payments(t))
	assert.Empty(t, env.ledgerTransactions(t, "refund:"+env.billing.Invoice.ID.String()))

	// a second refund after the first one settles is also a no-op
	env.storeEvent(t, "evt_paid", "payment_succeeded", env.invoiceData())
	env.storeEvent(t, "evt_refund_2", "refund_succeeded", env.invoiceData())
	env.storeEvent(t, "evt_refund_3", "refund_succeeded", env.invoiceData())
	require.NoError(t, env.proc.Process(ctx, "evt_paid"))
	require.NoError(t, env.proc.Process(ctx, "evt_refund_2"))
	require.NoError(t, env.proc.Process(ctx, "evt_refund_3"))
	assert.Len(t, env.ledgerTransactions(t, "refund:"+env.billing.Invoice.ID.String()), 1)
}

func TestProcessErrors(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	env.storeEvent(t, "evt_missing_invoice", "payment_succeeded", `{}`)
	env.storeEvent(t, "evt_unknown_invoice", "payment_succeeded", `{"invoice_id":"123456789"}`)
	env.storeEvent(t, "evt_malformed_invoice", "payment_succeeded", `{"invoice_id":"12.5"}`)
	env.storeEvent(t, "evt_text_invoice", "payment_succeeded", `{"invoice_id":"inv_abc"}`)
	env.storeEvent(t, "evt_unsupported", "dispute_opened", env.invoiceData())

	cases := []struct {
		eventID string
		want    error
	}{
		{eventID: "evt_absent", want: providereventdomain.ErrNotFound},
		{eventID: "evt_missing_invoice", want: invoicedomain.ErrNotFound},
		{eventID: "evt_unknown_invoice", want: invoicedomain.ErrNotFound},
		{eventID: "evt_malformed_invoice", want: invoicedomain.ErrNotFound},
		{eventID: "evt_text_invoice", want: invoicedomain.ErrNotFound},
		{eventID: "evt_unsupported", want: ErrUnsupportedEventType},
	}
	for _, tc := range cases {
		t.Run(tc.eventID, func(t *testing.T) {
			err := env.proc.Process(ctx, tc.eventID)
			require.ErrorIs(t, err, tc.want)
		})
	}

	// failed events roll back entirely, including the PROCESSING mark
	event, err := providereventrepository.Provide().FindByEventID(ctx, env.db, "evt_unsupported")
	require.NoError(t, err)
	assert.Equal(t, providereventdomain.EventStatusReceived, event.Status)
	assert.Empty(t, env.payments(t))
}

func TestInvalidRawPayload(t *testing.T) {
	env := setupProcessor(t)
	inserted, err := providereventrepository.Provide().InsertIfAbsent(context.Background(), env.db, &providereventdomain.ProviderEvent{
		ID:         env.node.Generate(),
		EventID:    "evt_no_type",
		Type:       "payment_succeeded",
		RawPayload: datatypes.JSON(`{"data":{}}`),
		Status:     providereventdomain.EventStatusReceived,
		ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	require.ErrorIs(t, env.proc.Process(context.Background(), "evt_no_type"), ErrInvalidPayload)
}

func TestNextRetryAtGrowsWithAttempts(t *testing.T) {
	env := setupProcessor(t)
	now := env.clock.Now()

	first := env.proc.NextRetryAt(1)
	assert.True(t, first.After(now.Add(4*time.Second-time.Nanosecond)))
	assert.True(t, first.Before(now.Add(5*time.Second+time.Nanosecond)))

	third := env.proc.NextRetryAt(3)
	assert.True(t, third.After(now.Add(16*time.Second-time.Nanosecond)))
	assert.True(t, third.Before(now.Add(17*time.Second+time.Nanosecond)))
}
