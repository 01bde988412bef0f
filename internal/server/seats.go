package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	seatdomain "github.com/smallbiznis/seatbill/internal/seat/domain"
)

// timestampRequest carries an optional event time; zero means now.
type timestampRequest struct {
	At *time.Time `json:"at,omitempty"`
}

func (r timestampRequest) value() time.Time {
	if r.At == nil {
		return time.Time{}
	}
	return *r.At
}

func (s *Server) OnboardSeat(c *gin.Context) {
	var req seatdomain.OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.seatSvc.Onboard(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSeat(c *gin.Context) {
	s.seatAction(c, s.seatSvc.Get)
}

func (s *Server) ClearLongLeave(c *gin.Context) {
	s.seatAction(c, s.seatSvc.ClearLongLeave)
}

func (s *Server) ReactivateSeat(c *gin.Context) {
	s.seatAction(c, s.seatSvc.Reactivate)
}

func (s *Server) SuspendSeat(c *gin.Context) {
	s.seatAction(c, s.seatSvc.Suspend)
}

func (s *Server) seatAction(c *gin.Context, fn func(context.Context, string) (*seatdomain.Seat, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordSeatActivity(c *gin.Context) {
	var req timestampRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.seatSvc.RecordActivity(c.Request.Context(), c.Param("id"), req.value())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateSeat(c *gin.Context) {
	var req timestampRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.seatSvc.Deactivate(c.Request.Context(), c.Param("id"), req.value())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeclareLongLeave(c *gin.Context) {
	var req seatdomain.DeclareLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.seatSvc.DeclareLongLeave(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) StartGracePeriod(c *gin.Context) {
	var req seatdomain.GracePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.seatSvc.StartGracePeriod(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListSeats(c *gin.Context) {
	resp, err := s.seatSvc.List(c.Request.Context(), seatdomain.ListRequest{
		GlobalLicenseID: c.Param("id"),
		Classification:  seatdomain.Classification(c.Query("billing_status")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SeatSummary(c *gin.Context) {
	resp, err := s.seatSvc.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
