package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
)

type failPaymentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListPayments(c *gin.Context) {
	cycleID, err := parseOptionalSnowflakeID(c.Query("billing_cycle_id"))
	if err != nil {
		AbortWithError(c, newValidationError("billing_cycle_id", "invalid_billing_cycle_id", "invalid billing_cycle_id"))
		return
	}
	adjustmentID, err := parseOptionalSnowflakeID(c.Query("adjustment_id"))
	if err != nil {
		AbortWithError(c, newValidationError("adjustment_id", "invalid_adjustment_id", "invalid adjustment_id"))
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListFilter{
		BillingCycleID: cycleID,
		AdjustmentID:   adjustmentID,
		Status:         paymentdomain.Status(strings.TrimSpace(c.Query("status"))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayment(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.Get)
}

func (s *Server) StartPaymentProcessing(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.StartProcessing)
}

func (s *Server) CompletePayment(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.Complete)
}

func (s *Server) CancelPayment(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.Cancel)
}

func (s *Server) RefundPayment(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.Refund)
}

func (s *Server) RetryPayment(c *gin.Context) {
	s.paymentAction(c, s.paymentSvc.Retry)
}

func (s *Server) FailPayment(c *gin.Context) {
	var req failPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.Fail(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) paymentAction(c *gin.Context, fn func(context.Context, string) (*paymentdomain.PaymentTransaction, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
