package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/payflow/internal/webhook/domain"
	"github.com/smallbiznis/payflow/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// HandleProviderWebhook stores a provider event and queues it for processing.
// Redeliveries are acknowledged with duplicate=true so the provider stops retrying.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, tooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.verifier.Verify(payload, c.GetHeader(webhookdomain.HeaderSignature)); err != nil {
		s.log.Warn("rejected provider webhook", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	envelope, err := webhookdomain.ParseEnvelope(payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	result, err := s.webhookSvc.Ingest(ctx, webhookdomain.IngestRequest{
		EventID:    envelope.EventID,
		Type:       envelope.Type,
		RawPayload: payload,
		RequestID:  correlation.RequestIDFromContext(ctx),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"duplicate": !result.Inserted,
	})
}
