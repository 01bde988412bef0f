package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) PreviewLicenseCost(c *gin.Context) {
	resp, err := s.billingCycleSvc.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLicenseBillingCycles(c *gin.Context) {
	resp, err := s.billingCycleSvc.ListByLicense(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBillingCycle(c *gin.Context) {
	resp, err := s.billingCycleSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkBillingCycleInvoiced(c *gin.Context) {
	resp, err := s.billingCycleSvc.MarkInvoiced(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkBillingCyclesOverdue(c *gin.Context) {
	count, err := s.billingCycleSvc.MarkOverdue(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"marked_overdue": count}})
}
