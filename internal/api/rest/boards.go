package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/pinout"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/gin-gonic/gin"
)

func parseAddress(c *gin.Context) (uint8, bool) {
	addr, err := strconv.Atoi(c.Param("address"))
	if err == nil {
		err = protocol.ValidateBoardAddress(addr)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("BOARD_400", "Invalid board address", err.Error()))
		return 0, false
	}
	return uint8(addr), true
}

// GET /api/v1/boards
func (s *Server) listBoards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"boards": s.lm.Boards().Snapshot(),
	})
}

// GET /api/v1/boards/:address
func (s *Server) getBoard(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	board, err := s.lm.Boards().Board(addr)
	if err != nil {
		respondError(c, "BOARD", "Board not found", err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func parsePin(c *gin.Context) (protocol.PinRef, bool) {
	addr, ok := parseAddress(c)
	if !ok {
		return protocol.PinRef{}, false
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err == nil {
		var ref protocol.PinRef
		if ref, err = protocol.NewPinRef(int(addr), index); err == nil {
			return ref, true
		}
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse("PIN_400", "Invalid pin index", err.Error()))
	return protocol.PinRef{}, false
}

// GET /api/v1/boards/:address/pins/:index
func (s *Server) getPin(c *gin.Context) {
	ref, ok := parsePin(c)
	if !ok {
		return
	}

	pin, err := s.lm.Boards().Pin(ref)
	if err != nil {
		respondError(c, "PIN", "Pin not found", err)
		return
	}
	c.JSON(http.StatusOK, pin)
}

// GET /api/v1/boards/:address/pins/:index/history?limit=N
func (s *Server) getPinHistory(c *gin.Context) {
	ref, ok := parsePin(c)
	if !ok {
		return
	}
	store := s.lm.Results()
	if store == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("HISTORY_404", "Result history is disabled", nil))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 1000 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("HISTORY_400", "limit must be between 1 and 1000", c.Query("limit")))
		return
	}

	results, err := store.History(c.Request.Context(), ref, limit)
	if err != nil {
		respondError(c, "HISTORY", "Failed to load history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pin": ref, "results": results})
}

// PUT /api/v1/boards/:address/parameters
//
// Fields missing from the body keep their current value.
func (s *Server) setParameters(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	board, err := s.lm.Boards().Board(addr)
	if err != nil {
		respondError(c, "BOARD", "Board not found", err)
		return
	}

	params := boards.DefaultParameters()
	if board.Params != nil {
		params = *board.Params
	}
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("BOARD_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.Boards().SetParameters(addr, params); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("BOARD_400", "Invalid parameters", err.Error()))
		return
	}
	c.JSON(http.StatusOK, params)
}

// POST /api/v1/boards/refresh
func (s *Server) refreshBoards(c *gin.Context) {
	if err := s.lm.Director().RefreshBoards(c.Request.Context()); err != nil {
		respondError(c, "BOARD", "Failed to refresh boards", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"boards": s.lm.Boards().Addresses(),
	})
}

// GET /api/v1/export
//
// ?view=groups returns the raw group buckets instead of the printable rows.
func (s *Server) export(c *gin.Context) {
	if c.Query("view") == "groups" {
		c.JSON(http.StatusOK, gin.H{"groups": s.lm.Boards().GroupPins()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": s.lm.Boards().Export()})
}

// POST /api/v1/pinout/reload
func (s *Server) reloadPinout(c *gin.Context) {
	if err := s.lm.Boards().ReloadPinout(c.Request.Context()); err != nil {
		if errors.Is(err, pinout.ErrNoSource) {
			c.JSON(http.StatusNotFound, NewErrorResponse("PINOUT_404", "No pinout configured", err.Error()))
			return
		}
		c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("PINOUT_422", "Failed to load pinout", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pinout reloaded"})
}
