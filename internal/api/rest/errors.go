package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/director"
	"github.com/KevinKickass/OpenHarnessCore/internal/session"
	"github.com/gin-gonic/gin"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be a string, map or struct.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, prefix, message string, err error) {
	var berr *director.BroadcastError
	switch {
	case errors.Is(err, director.ErrNotSettled):
		c.JSON(http.StatusConflict, NewErrorResponse(prefix+"_409", message, err.Error()))
	case errors.As(err, &berr):
		c.JSON(http.StatusBadGateway, NewErrorResponse(prefix+"_502", message, berr.Failures))
	case errors.Is(err, director.ErrControllerNotFound),
		errors.Is(err, boards.ErrBoardNotFound),
		errors.Is(err, boards.ErrPinNotFound):
		c.JSON(http.StatusNotFound, NewErrorResponse(prefix+"_404", message, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(prefix+"_500", message, err.Error()))
	}
}

func respondOutcome(c *gin.Context, prefix string, outcome session.Outcome) {
	if outcome == session.Success {
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
		return
	}
	c.JSON(http.StatusBadGateway, NewErrorResponse(prefix+"_502", "Controller did not complete the command", outcome.String()))
}
