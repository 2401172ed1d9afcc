package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	"github.com/smallbiznis/payflow/internal/config"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payflow/internal/ledger/domain"
	"github.com/smallbiznis/payflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	providereventdomain "github.com/smallbiznis/payflow/internal/providerevent/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrUnsupportedEventType = errors.New("unsupported_event_type")
)

//go:generate mockgen -destination=mock/mock_processor.go -package=mock github.com/smallbiznis/payflow/internal/processor Processor

// Processor applies one stored provider event to billing state.
type Processor interface {
	Process(ctx context.Context, eventID string) error
	NextRetryAt(attempt int) time.Time
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	GenID            *snowflake.Node
	Clock            clock.Clock
	RuntimeConfig    *config.RuntimeConfigHolder
	EventRepo        providereventdomain.Repository
	InvoiceRepo      invoicedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	PaymentRepo      paymentdomain.Repository
	Ledger           ledgerdomain.Service
	Metrics          *metrics.Metrics `optional:"true"`
}

type Service struct {
	db               *gorm.DB
	log              *zap.Logger
	genID            *snowflake.Node
	clock            clock.Clock
	runtimeConfig    *config.RuntimeConfigHolder
	eventRepo        providereventdomain.Repository
	invoiceRepo      invoicedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	paymentRepo      paymentdomain.Repository
	ledger           ledgerdomain.Service
	metrics          *metrics.Metrics
	tracer           trace.Tracer
}

func New(p Params) Processor {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("event.processor"),
		genID:            p.GenID,
		clock:            p.Clock,
		runtimeConfig:    p.RuntimeConfig,
		eventRepo:        p.EventRepo,
		invoiceRepo:      p.InvoiceRepo,
		subscriptionRepo: p.SubscriptionRepo,
		paymentRepo:      p.PaymentRepo,
		ledger:           p.Ledger,
		metrics:          p.Metrics,
		tracer:           otel.Tracer("payflow/processor"),
	}
}

// settlement is what a handler needs from the event once the invoice is resolved.
type settlement struct {
	invoice           *invoicedomain.Invoice
	providerPaymentID *string
	amountCents       int64
	currency          string
}

// Process runs every mutation for one event in a single transaction. Handlers
// return early, without error, when the invoice status shows the effect
// already happened.
func (s *Service) Process(ctx context.Context, eventID string) error {
	ctx, span := s.tracer.Start(ctx, "processor.process",
		trace.WithAttributes(attribute.String("event_id", eventID)),
	)
	defer span.End()

	var ledgerKind string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.eventRepo.FindByEventID(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return fmt.Errorf("%w: %s", providereventdomain.ErrNotFound, eventID)
		}
		span.SetAttributes(attribute.String("event_type", event.Type))

		if err := s.eventRepo.UpdateStatus(ctx, tx, event.EventID, providereventdomain.StatusUpdate{
			Status:    providereventdomain.EventStatusProcessing,
			Attempts:  event.Attempts,
			LastError: event.LastError,
		}); err != nil {
			return err
		}

		env, err := webhookdomain.ParseEnvelope(event.RawPayload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		invoice, err := s.resolveInvoice(ctx, tx, env.Data.InvoiceID)
		if err != nil {
			return err
		}

		st := settlement{
			invoice:           invoice,
			providerPaymentID: env.Data.ProviderPaymentID,
			amountCents:       invoice.AmountCents,
			currency:          invoice.Currency,
		}
		if env.Data.AmountCents != nil {
			st.amountCents = *env.Data.AmountCents
		}
		if env.Data.Currency != nil && strings.TrimSpace(*env.Data.Currency) != "" {
			st.currency = strings.ToUpper(strings.TrimSpace(*env.Data.Currency))
		}

		switch kind := ParseEventKind(event.Type); kind {
		case KindPaymentSucceeded:
			ledgerKind, err = s.paymentSucceeded(ctx, tx, st)
		case KindPaymentFailed:
			err = s.paymentFailed(ctx, tx, st)
		case KindRefundSucceeded:
			ledgerKind, err = s.refundSucceeded(ctx, tx, st)
		default:
			err = fmt.Errorf("%w: %s", ErrUnsupportedEventType, event.Type)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if ledgerKind != "" {
		s.metrics.RecordLedgerTransaction(ctx, ledgerKind)
	}
	return nil
}

func (s *Service) NextRetryAt(attempt int) time.Time {
	cfg := config.DefaultRuntimeConfig()
	if s.runtimeConfig != nil {
		cfg = s.runtimeConfig.Get()
	}
	backoff := Backoff{Base: cfg.RetryBase(), Jitter: cfg.RetryJitter()}
	return backoff.NextRetryAt(s.clock.Now(), attempt)
}

// resolveInvoice locks the referenced invoice. A missing or unparseable id is
// reported as not found so the event is retried like an unknown invoice.
func (s *Service) resolveInvoice(ctx context.Context, tx *gorm.DB, raw webhookdomain.InvoiceRef) (*invoicedomain.Invoice, error) {
	ref := strings.TrimSpace(raw.String())
	if ref == "" {
		return nil, fmt.Errorf("%w: invoice_id missing", invoicedomain.ErrNotFound)
	}
	id, err := snowflake.ParseString(ref)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: invoice_id %q", invoicedomain.ErrNotFound, ref)
	}

	invoice, err := s.invoiceRepo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, fmt.Errorf("%w: %s", invoicedomain.ErrNotFound, id)
	}
	return invoice, nil
}

func (s *Service) paymentSucceeded(ctx context.Context, tx *gorm.DB, st settlement) (string, error) {
	invoice := st.invoice
	if invoice.Settled() {
		s.log.Info("invoice already settled, skipping payment",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("status", string(invoice.Status)),
		)
		return "", nil
	}

	now := s.clock.Now()
	if err := s.insertPayment(ctx, tx, st, paymentdomain.PaymentStatusSucceeded, now); err != nil {
		return "", err
	}
	if err := s.invoiceRepo.MarkPaid(ctx, tx, invoice.ID, now); err != nil {
		return "", err
	}
	if err := s.subscriptionRepo.Activate(ctx, tx, invoice.SubscriptionID, invoice.PeriodStart, invoice.PeriodEnd, now); err != nil {
		return "", err
	}
	if st.amountCents == 0 {
		return "", nil
	}
	if _, err := s.ledger.RecordPayment(ctx, tx, "invoice:"+invoice.ID.String(), st.amountCents, st.currency); err != nil {
		return "", err
	}
	return metrics.LedgerKindPayment, nil
}

func (s *Service) paymentFailed(ctx context.Context, tx *gorm.DB, st settlement) error {
	invoice := st.invoice
	if invoice.Settled() {
		s.log.Info("invoice already settled, ignoring payment failure",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("status", string(invoice.Status)),
		)
		return nil
	}

	now := s.clock.Now()
	if err := s.insertPayment(ctx, tx, st, paymentdomain.PaymentStatusFailed, now); err != nil {
		return err
	}
	if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusFailed, now); err != nil {
		return err
	}
	return s.subscriptionRepo.UpdateStatus(ctx, tx, invoice.SubscriptionID, subscriptiondomain.SubscriptionStatusPastDue, now)
}

func (s *Service) refundSucceeded(ctx context.Context, tx *gorm.DB, st settlement) (string, error) {
	invoice := st.invoice
	if invoice.Status != invoicedomain.InvoiceStatusPaid {
		s.log.Info("invoice not paid, skipping refund",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("status", string(invoice.Status)),
		)
		return "", nil
	}

	now := s.clock.Now()
	if err := s.insertPayment(ctx, tx, st, paymentdomain.PaymentStatusRefunded, now); err != nil {
		return "", err
	}
	if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusRefunded, now); err != nil {
		return "", err
	}
	if st.amountCents == 0 {
		return "", nil
	}
	if _, err := s.ledger.RecordRefund(ctx, tx, "refund:"+invoice.ID.String(), st.amountCents, st.currency); err != nil {
		return "", err
	}
	return metrics.LedgerKindRefund, nil
}

func (s *Service) insertPayment(ctx context.Context, tx *gorm.DB, st settlement, status paymentdomain.PaymentStatus, now time.Time) error {
	return s.paymentRepo.Insert(ctx, tx, &paymentdomain.Payment{
		ID:                s.genID.Generate(),
		InvoiceID:         st.invoice.ID,
		ProviderPaymentID: st.providerPaymentID,
		AmountCents:       st.amountCents,
		Currency:          st.currency,
		Status:            status,
		CreatedAt:         now,
	})
}
