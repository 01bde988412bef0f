package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	adjustmentdomain "github.com/smallbiznis/seatbill/internal/adjustment/domain"
)

func (s *Server) ProposeAdjustment(c *gin.Context) {
	var req adjustmentdomain.ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.adjustmentSvc.Propose(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAdjustment(c *gin.Context) {
	s.adjustmentAction(c, s.adjustmentSvc.Get)
}

func (s *Server) ConfirmAdjustment(c *gin.Context) {
	s.adjustmentAction(c, s.adjustmentSvc.Confirm)
}

func (s *Server) CancelAdjustment(c *gin.Context) {
	s.adjustmentAction(c, s.adjustmentSvc.Cancel)
}

func (s *Server) adjustmentAction(c *gin.Context, fn func(context.Context, string) (*adjustmentdomain.View, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListLicenseAdjustments(c *gin.Context) {
	resp, err := s.adjustmentSvc.ListByLicense(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
