package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/director
func (s *Server) getDirectorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Director().Status())
}

type voltageRequest struct {
	Level *int `json:"level" binding:"required"`
}

// POST /api/v1/voltage
func (s *Server) setVoltageLevel(c *gin.Context) {
	var req voltageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("VOLTAGE_400", "Invalid request body", err.Error()))
		return
	}
	level := protocol.VoltageLevel(*req.Level)
	if !level.Valid() {
		c.JSON(http.StatusBadRequest, NewErrorResponse("VOLTAGE_400", "Level must be 0 or 1", *req.Level))
		return
	}

	if err := s.lm.Director().SetVoltageLevel(c.Request.Context(), level); err != nil {
		respondError(c, "VOLTAGE", "Failed to set voltage level", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": level})
}

type checkRequest struct {
	Kind       string `json:"kind" binding:"required"`
	Pin        string `json:"pin"`
	Sequential bool   `json:"sequential"`
}

// POST /api/v1/check
//
// Without a pin every controller checks all of its pins. With a pin
// ("board:index") only the controller owning that board is asked.
func (s *Server) runCheck(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("CHECK_400", "Invalid request body", err.Error()))
		return
	}

	kind, ok := protocol.KindFromHeader(req.Kind)
	if !ok || !kind.IsConnectivity() {
		c.JSON(http.StatusBadRequest, NewErrorResponse("CHECK_400", "Unknown check kind", req.Kind))
		return
	}

	if req.Pin == "" {
		if err := s.lm.Director().CheckAll(c.Request.Context(), kind, req.Sequential); err != nil {
			respondError(c, "CHECK", "Check failed", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": kind.String()})
		return
	}

	pin, err := protocol.ParsePinRef(req.Pin)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("CHECK_400", "Invalid pin", err.Error()))
		return
	}
	controllerID, ok := s.lm.Boards().ControllerOf(pin.Board)
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse("CHECK_404", "No controller owns this board", pin.String()))
		return
	}

	outcome, err := s.lm.Director().CheckPin(c.Request.Context(), controllerID, kind, pin)
	if err != nil {
		respondError(c, "CHECK", "Check failed", err)
		return
	}
	respondOutcome(c, "CHECK", outcome)
}

// POST /api/v1/hardware/check
func (s *Server) checkHardware(c *gin.Context) {
	if err := s.lm.Director().CheckHardware(c.Request.Context()); err != nil {
		respondError(c, "HARDWARE", "Hardware check failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Hardware check passed"})
}
