package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/payflow/internal/plan/domain"
)

type createPlanRequest struct {
	Name          string `json:"name" binding:"required,max=255"`
	AmountCents   int64  `json:"amount_cents" binding:"gt=0"`
	Currency      string `json:"currency" binding:"required,len=3"`
	IntervalUnit  string `json:"interval_unit" binding:"required,oneof=day month"`
	IntervalCount int    `json:"interval_count" binding:"omitempty,gte=1"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := bindJSON(c, &req); err != nil {
		AbortWithError(c, err)
		return
	}
	if req.IntervalCount == 0 {
		req.IntervalCount = 1
	}

	resp, err := s.planSvc.Create(c.Request.Context(), plandomain.CreatePlanRequest{
		Name:          req.Name,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		IntervalUnit:  req.IntervalUnit,
		IntervalCount: req.IntervalCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPlanByID(c *gin.Context) {
	id, err := parseIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.planSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
