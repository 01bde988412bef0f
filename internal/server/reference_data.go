package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	exchangeratedomain "github.com/smallbiznis/seatbill/internal/exchangerate/domain"
	paymentmethoddomain "github.com/smallbiznis/seatbill/internal/paymentmethod/domain"
	taxdomain "github.com/smallbiznis/seatbill/internal/tax/domain"
)

func (s *Server) ListTaxRules(c *gin.Context) {
	resp, err := s.taxSvc.List(c.Request.Context(), c.Query("country_code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateTaxRule(c *gin.Context) {
	var req taxdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.taxSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) DisableTaxRule(c *gin.Context) {
	resp, err := s.taxSvc.Disable(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordExchangeRate(c *gin.Context) {
	var req exchangeratedomain.RecordRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.exchangeRateSvc.RecordRate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	resp, err := s.paymentMethodSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RegisterPaymentMethod(c *gin.Context) {
	var req paymentmethoddomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentMethodSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
