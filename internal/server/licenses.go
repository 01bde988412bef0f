package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	licensedomain "github.com/smallbiznis/seatbill/internal/license/domain"
)

func (s *Server) CreateLicense(c *gin.Context) {
	var req licensedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.licenseSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Get)
}

func (s *Server) SuspendLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Suspend)
}

func (s *Server) ActivateLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Activate)
}

func (s *Server) ExpireLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Expire)
}

func (s *Server) CancelLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Cancel)
}

func (s *Server) RenewLicense(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.Renew)
}

func (s *Server) EnsureLicenseBilling(c *gin.Context) {
	s.licenseAction(c, s.licenseSvc.EnsureBilling)
}

func (s *Server) licenseAction(c *gin.Context, fn func(context.Context, string) (*licensedomain.GlobalLicense, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteLicense(c *gin.Context) {
	if err := s.licenseSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
