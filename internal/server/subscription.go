package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	idempotencydomain "github.com/smallbiznis/payflow/internal/idempotency/domain"
	subscriptiondomain "github.com/smallbiznis/payflow/internal/subscription/domain"
	"go.uber.org/zap"
)

const scopeCreateSubscription = "POST /subscriptions"

type createSubscriptionRequest struct {
	CustomerID string     `json:"customer_id" binding:"required"`
	PlanID     string     `json:"plan_id" binding:"required"`
	StartAt    *time.Time `json:"start_at,omitempty"`
}

type cancelSubscriptionRequest struct {
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
}

// CreateSubscription is safe to retry under the same Idempotency-Key: a replay
// returns the stored response, a different body under the same key is a conflict.
func (s *Server) CreateSubscription(c *gin.Context) {
	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	if key == "" {
		AbortWithError(c, newValidationError("idempotency_key", "missing_idempotency_key", "Idempotency-Key header is required"))
		return
	}

	var req createSubscriptionRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	customerID, err := parseID("customer_id", req.CustomerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseID("plan_id", req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// hash the decoded request so formatting differences do not count as a new request
	canonical, err := json.Marshal(createSubscriptionRequest{
		CustomerID: customerID.String(),
		PlanID:     planID.String(),
		StartAt:    normalizeTime(req.StartAt),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	requestHash := idempotencydomain.HashRequest(canonical)

	ctx := c.Request.Context()
	release, err := s.idempotencySvc.Acquire(ctx, key, scopeCreateSubscription)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer release(ctx)

	record, err := s.idempotencySvc.FindOrConflict(ctx, key, scopeCreateSubscription, requestHash)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if record != nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", record.Response)
		return
	}

	resp, err := s.subscriptionSvc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID,
		PlanID:     planID,
		StartAt:    req.StartAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body := gin.H{"data": resp}
	if err := s.idempotencySvc.Save(ctx, key, scopeCreateSubscription, requestHash, http.StatusCreated, body); err != nil {
		// the subscription exists; a retry will create another, so surface it loudly
		s.log.Error("failed to store idempotent response",
			zap.String("idempotency_key", key),
			zap.String("subscription_id", resp.Subscription.ID.String()),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusCreated, body)
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), subscriptiondomain.CancelSubscriptionRequest{
		ID:                id,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
