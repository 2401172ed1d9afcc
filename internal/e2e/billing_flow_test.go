package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/smallbiznis/payflow/internal/server"
	webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"
)

type billingFixture struct {
	CustomerID     string
	PlanID         string
	SubscriptionID string
	InvoiceID      string
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_PaymentSucceededActivatesSubscription(t *testing.T) {
	resetDatabase(t)
	fixture := createBillingFixture(t, nil)

	sendWebhook(t, map[string]any{
		"event_id": "evt_pay_1",
		"type":     webhookdomain.EventTypePaymentSucceeded,
		"data": map[string]any{
			"invoice_id":          fixture.InvoiceID,
			"provider_payment_id": "pi_1",
		},
	}, false)

	processed := processOutbox(t)
	if processed != 1 {
		t.Fatalf("expected 1 processed job, got %d", processed)
	}

	if status := invoiceStatus(t, fixture.InvoiceID); status != "PAID" {
		t.Fatalf("expected invoice PAID, got %s", status)
	}
	if status := subscriptionStatus(t, fixture.SubscriptionID); status != "ACTIVE" {
		t.Fatalf("expected subscription ACTIVE, got %s", status)
	}
	if status := eventStatus(t, "evt_pay_1"); status != "SUCCEEDED" {
		t.Fatalf("expected event SUCCEEDED, got %s", status)
	}
	if n := countRows(t, "outbox_jobs", "status = ?", "SUCCEEDED"); n != 1 {
		t.Fatalf("expected 1 succeeded job, got %d", n)
	}

	assertBalancedLedger(t, "invoice:"+fixture.InvoiceID, 1500)
}

func TestE2E_WebhookReplayIsIdempotent(t *testing.T) {
	resetDatabase(t)
	fixture := createBillingFixture(t, nil)
	event := map[string]any{
		"event_id": "evt_replay",
		"type":     webhookdomain.EventTypePaymentSucceeded,
		"data":     map[string]any{"invoice_id": fixture.InvoiceID},
	}

	sendWebhook(t, event, false)
	sendWebhook(t, event, true)
	processOutbox(t)

	// a redelivery after processing is still a duplicate
	sendWebhook(t, event, true)
	if processed := processOutbox(t); processed != 0 {
		t.Fatalf("expected no jobs after replay, got %d", processed)
	}

	if n := countRows(t, "provider_events", "event_id = ?", "evt_replay"); n != 1 {
		t.Fatalf("expected 1 provider event, got %d", n)
	}
	if n := countRows(t, "outbox_jobs", "1 = 1"); n != 1 {
		t.Fatalf("expected 1 outbox job, got %d", n)
	}
	assertBalancedLedger(t, "invoice:"+fixture.InvoiceID, 1500)
}

func TestE2E_SecondPaymentEventDoesNotDoublePost(t *testing.T) {
	resetDatabase(t)
	fixture := createBillingFixture(t, nil)

	for _, id := range []string{"evt_a", "evt_b"} {
		sendWebhook(t, map[string]any{
			"event_id": id,
			"type":     webhookdomain.EventTypePaymentSucceeded,
			"data":     map[string]any{"invoice_id": fixture.InvoiceID},
		}, false)
	}
	processOutbox(t)

	if n := countRows(t, "provider_events", "status = ?", "SUCCEEDED"); n != 2 {
		t.Fatalf("expected both events SUCCEEDED, got %d", n)
	}
	assertBalancedLedger(t, "invoice:"+fixture.InvoiceID, 1500)
}

func TestE2E_RefundAfterPayment(t *testing.T) {
	resetDatabase(t)
	fixture := createBillingFixture(t, nil)

	sendWebhook(t, map[string]any{
		"event_id": "evt_pay",
		"type":     webhookdomain.EventTypePaymentSucceeded,
		"data":     map[string]any{"invoice_id": fixture.InvoiceID},
	}, false)
	processOutbox(t)

	sendWebhook(t, map[string]any{
		"event_id": "evt_refund",
		"type":     webhookdomain.EventTypeRefundSucceeded,
		"data": map[string]any{
			"invoice_id":   fixture.InvoiceID,
			"amount_cents": 500,
		},
	}, false)
	processOutbox(t)

	if status := invoiceStatus(t, fixture.InvoiceID); status != "REFUNDED" {
		t.Fatalf("expected invoice REFUNDED, got %s", status)
	}
	assertBalancedLedger(t, "invoice:"+fixture.InvoiceID, 1500)
	assertBalancedLedger(t, "refund:"+fixture.InvoiceID, 500)
}

func TestE2E_FailingEventIsRetriedThenDeadLettered(t *testing.T) {
	resetDatabase(t)

	sendWebhook(t, map[string]any{
		"event_id": "evt_orphan",
		"type":     webhookdomain.EventTypePaymentSucceeded,
		"data":     map[string]any{"invoice_id": "424242"},
	}, false)

	processOutbox(t)
	job := outboxJob(t, "evt_orphan")
	if job.Status != "PENDING" || job.Attempts != 1 {
		t.Fatalf("expected PENDING after first attempt, got %s/%d", job.Status, job.Attempts)
	}
	if job.LastError == nil || *job.LastError == "" {
		t.Fatalf("expected last_error to be recorded")
	}
	if status := eventStatus(t, "evt_orphan"); status != "FAILED" {
		t.Fatalf("expected event FAILED, got %s", status)
	}

	// skip the backoff window
	if err := env.db.Exec(
		`UPDATE outbox_jobs SET available_at = ? WHERE aggregate_id = ?`,
		time.Now().UTC().Add(-time.Second), "evt_orphan",
	).Error; err != nil {
		t.Fatalf("rewind available_at: %v", err)
	}

	processOutbox(t)
	job = outboxJob(t, "evt_orphan")
	if job.Status != "DEAD" || job.Attempts != 2 {
		t.Fatalf("expected DEAD after max attempts, got %s/%d", job.Status, job.Attempts)
	}
	if status := eventStatus(t, "evt_orphan"); status != "DEAD" {
		t.Fatalf("expected event DEAD, got %s", status)
	}
	if processed := processOutbox(t); processed != 0 {
		t.Fatalf("dead job must not be claimed again, got %d", processed)
	}
}

func TestE2E_PaymentFailedMarksPastDue(t *testing.T) {
	resetDatabase(t)
	fixture := createBillingFixture(t, nil)

	sendWebhook(t, map[string]any{
		"event_id": "evt_fail",
		"type":     webhookdomain.EventTypePaymentFailed,
		"data":     map[string]any{"invoice_id": fixture.InvoiceID},
	}, false)
	processOutbox(t)

	if status := invoiceStatus(t, fixture.InvoiceID); status != "FAILED" {
		t.Fatalf("expected invoice FAILED, got %s", status)
	}
	if status := subscriptionStatus(t, fixture.SubscriptionID); status != "PAST_DUE" {
		t.Fatalf("expected subscription PAST_DUE, got %s", status)
	}
	if n := countRows(t, "ledger_transactions", "1 = 1"); n != 0 {
		t.Fatalf("expected no ledger transactions, got %d", n)
	}
}

func TestE2E_RenewalIsIdempotent(t *testing.T) {
	resetDatabase(t)
	// the first monthly period is over
	startAt := time.Now().UTC().AddDate(0, 0, -40).Truncate(time.Second)
	fixture := createBillingFixture(t, &startAt)

	sendWebhook(t, map[string]any{
		"event_id": "evt_pay_renew",
		"type":     webhookdomain.EventTypePaymentSucceeded,
		"data":     map[string]any{"invoice_id": fixture.InvoiceID},
	}, false)
	processOutbox(t)

	subID := mustParseID(t, fixture.SubscriptionID)
	res, err := env.scheduler.RenewDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("renew due: %v", err)
	}
	if res.Renewed != 1 {
		t.Fatalf("expected 1 renewal, got %+v", res)
	}
	if n := countRows(t, "invoices", "subscription_id = ?", subID); n != 2 {
		t.Fatalf("expected 2 invoices, got %d", n)
	}

	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n := countRows(t, "invoices", "subscription_id = ?", subID); n != 2 {
		t.Fatalf("expected renewal to run once per period, got %d invoices", n)
	}

	// replay a stale read of the subscription: the period is billed already
	var first struct {
		PeriodStart time.Time
		PeriodEnd   time.Time
	}
	if err := env.db.Raw(
		`SELECT period_start, period_end FROM invoices WHERE id = ?`,
		mustParseID(t, fixture.InvoiceID),
	).Scan(&first).Error; err != nil {
		t.Fatalf("query first invoice: %v", err)
	}
	if err := env.db.Exec(
		`UPDATE subscriptions SET current_period_start = ?, current_period_end = ? WHERE id = ?`,
		first.PeriodStart, first.PeriodEnd, subID,
	).Error; err != nil {
		t.Fatalf("rewind period: %v", err)
	}
	res, err = env.scheduler.RenewDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("renew due after rewind: %v", err)
	}
	if res.Skipped != 1 || res.Renewed != 0 {
		t.Fatalf("expected duplicate renewal to be skipped, got %+v", res)
	}
	if n := countRows(t, "invoices", "subscription_id = ?", subID); n != 2 {
		t.Fatalf("expected 2 invoices after duplicate renewal, got %d", n)
	}
}

func createBillingFixture(t *testing.T, startAt *time.Time) billingFixture {
	t.Helper()
	suffix := time.Now().UnixNano()

	resp, body := doJSON(t, http.MethodPost, "/v1/customers", map[string]any{
		"email": fmt.Sprintf("e2e-%d@example.com", suffix),
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create customer: %d: %s", resp.StatusCode, string(body))
	}
	var customer struct {
		ID string `json:"id"`
	}
	decodeData(t, body, &customer)

	resp, body = doJSON(t, http.MethodPost, "/v1/plans", map[string]any{
		"name":           "Pro",
		"amount_cents":   1500,
		"currency":       "usd",
		"interval_unit":  "month",
		"interval_count": 1,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create plan: %d: %s", resp.StatusCode, string(body))
	}
	var plan struct {
		ID string `json:"id"`
	}
	decodeData(t, body, &plan)

	req := map[string]any{
		"customer_id": customer.ID,
		"plan_id":     plan.ID,
	}
	if startAt != nil {
		req["start_at"] = startAt.Format(time.RFC3339)
	}
	resp, body = doJSON(t, http.MethodPost, "/v1/subscriptions", req, map[string]string{
		server.HeaderIdempotencyKey: fmt.Sprintf("e2e-sub-%d", suffix),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create subscription: %d: %s", resp.StatusCode, string(body))
	}
	var created struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	decodeData(t, body, &created)

	return billingFixture{
		CustomerID:     customer.ID,
		PlanID:         plan.ID,
		SubscriptionID: created.Subscription.ID,
		InvoiceID:      created.Invoice.ID,
	}
}

func sendWebhook(t *testing.T, event map[string]any, wantDuplicate bool) {
	t.Helper()
	raw := mustJSON(t, event)
	resp, body := doJSON(t, http.MethodPost, "/v1/webhooks/provider", raw, map[string]string{
		webhookdomain.HeaderSignature: "sha256=" + env.verifier.Sign(raw),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: %d: %s", resp.StatusCode, string(body))
	}
	var ack struct {
		Received  bool `json:"received"`
		Duplicate bool `json:"duplicate"`
	}
	mustUnmarshal(t, body, &ack)
	if !ack.Received || ack.Duplicate != wantDuplicate {
		t.Fatalf("unexpected webhook ack: %s", string(body))
	}
}

func processOutbox(t *testing.T) int {
	t.Helper()
	processed, err := env.worker.ProcessBatch(context.Background(), 50)
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	return processed
}

func invoiceStatus(t *testing.T, id string) string {
	t.Helper()
	return scanStatus(t, `SELECT status FROM invoices WHERE id = ?`, mustParseID(t, id))
}

func subscriptionStatus(t *testing.T, id string) string {
	t.Helper()
	return scanStatus(t, `SELECT status FROM subscriptions WHERE id = ?`, mustParseID(t, id))
}

func eventStatus(t *testing.T, eventID string) string {
	t.Helper()
	return scanStatus(t, `SELECT status FROM provider_events WHERE event_id = ?`, eventID)
}

func scanStatus(t *testing.T, query string, arg any) string {
	t.Helper()
	var status string
	if err := env.db.Raw(query, arg).Scan(&status).Error; err != nil {
		t.Fatalf("query status: %v", err)
	}
	return status
}

type outboxJobRow struct {
	Status    string
	Attempts  int
	LastError *string
}

func outboxJob(t *testing.T, aggregateID string) outboxJobRow {
	t.Helper()
	var row outboxJobRow
	if err := env.db.Raw(
		`SELECT status, attempts, last_error FROM outbox_jobs WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&row).Error; err != nil {
		t.Fatalf("query outbox job: %v", err)
	}
	return row
}

func assertBalancedLedger(t *testing.T, externalRef string, amountCents int64) {
	t.Helper()
	entries, err := env.ledger.ListEntriesByExternalRef(context.Background(), externalRef)
	if err != nil {
		t.Fatalf("list ledger entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected one debit/credit pair for %s, got %d entries", externalRef, len(entries))
	}
	var debit, credit int64
	for _, entry := range entries {
		switch entry.Direction {
		case "DEBIT":
			debit += entry.AmountCents
		case "CREDIT":
			credit += entry.AmountCents
		}
	}
	if debit != credit || debit != amountCents {
		t.Fatalf("unbalanced ledger for %s: debit=%d credit=%d want=%d", externalRef, debit, credit, amountCents)
	}
}
