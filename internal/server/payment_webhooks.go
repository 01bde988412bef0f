package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
)

// HandlePaymentWebhook accepts a provider callback in canonical event form.
// Replays are acknowledged so the provider stops redelivering them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var event paymentdomain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	event.Provider = provider

	txn, err := s.paymentSvc.HandleProviderEvent(c.Request.Context(), event, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": txn})
}
