package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payflow/internal/clock"
	customerdomain "github.com/smallbiznis/payflow/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/payflow/internal/invoice/domain"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	CustomerRepo customerdomain.Repository
	PlanRepo     plandomain.Repository
	InvoiceRepo  invoicedomain.Repository
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         subscriptiondomain.Repository
	customerRepo customerdomain.Repository
	planRepo     plandomain.Repository
	invoiceRepo  invoicedomain.Repository
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		planRepo:     p.PlanRepo,
		invoiceRepo:  p.InvoiceRepo,
	}
}

// Create opens a PENDING subscription for its first period and bills that period
// in the same transaction. The subscription turns ACTIVE once the invoice is paid.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.CreateSubscriptionResponse, error) {
	if req.CustomerID == 0 {
		return subscriptiondomain.CreateSubscriptionResponse{}, subscriptiondomain.ErrInvalidCustomer
	}
	if req.PlanID == 0 {
		return subscriptiondomain.CreateSubscriptionResponse{}, subscriptiondomain.ErrInvalidPlan
	}

	var resp subscriptiondomain.CreateSubscriptionResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := s.customerRepo.FindByID(ctx, tx, req.CustomerID)
		if err != nil {
			return err
		}
		if customer == nil {
			return customerdomain.ErrNotFound
		}

		plan, err := s.planRepo.FindByID(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrNotFound
		}

		now := s.clock.Now()
		start := now
		if req.StartAt != nil && !req.StartAt.IsZero() {
			start = req.StartAt.UTC()
		}
		end := plan.NextPeriodEnd(start)

		subscription := subscriptiondomain.Subscription{
			ID:                 s.genID.Generate(),
			CustomerID:         customer.ID,
			PlanID:             plan.ID,
			Status:             subscriptiondomain.SubscriptionStatusPending,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}

		invoice := invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			AmountCents:    plan.AmountCents,
			Currency:       plan.Currency,
			Status:         invoicedomain.InvoiceStatusPending,
			PeriodStart:    start,
			PeriodEnd:      end,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.invoiceRepo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}

		resp = subscriptiondomain.CreateSubscriptionResponse{
			Subscription: subscription,
			Invoice:      invoice,
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.CreateSubscriptionResponse{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", resp.Subscription.ID.String()),
		zap.String("invoice_id", resp.Invoice.ID.String()),
	)
	return resp, nil
}

// Cancel either flags the subscription to stop renewing or cancels it outright.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	var updated subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrNotFound
		}

		now := s.clock.Now()
		if req.CancelAtPeriodEnd {
			if err := s.repo.SetCancelAtPeriodEnd(ctx, tx, subscription.ID, now); err != nil {
				return err
			}
			subscription.CancelAtPeriodEnd = true
		} else if subscription.Status != subscriptiondomain.SubscriptionStatusCancelled {
			if err := s.repo.UpdateStatus(ctx, tx, subscription.ID, subscriptiondomain.SubscriptionStatusCancelled, now); err != nil {
				return err
			}
			subscription.Status = subscriptiondomain.SubscriptionStatusCancelled
		}
		subscription.UpdatedAt = now
		updated = *subscription
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrNotFound
	}
	return *subscription, nil
}
