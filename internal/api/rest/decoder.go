package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MothTrain/CambridgeSignallingMap/internal/decoder"
	"github.com/MothTrain/CambridgeSignallingMap/internal/interfaces"
	"github.com/MothTrain/CambridgeSignallingMap/internal/mapping"
	"github.com/MothTrain/CambridgeSignallingMap/internal/types"
)

// GET /api/v1/decoder/snapshot
func (s *Server) getSnapshot(c *gin.Context) {
	events, err := s.lm.Snapshot()
	if err != nil {
		s.decoderError(c, "Snapshot unavailable", err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(events),
		"events": events,
	})
}

// POST /api/v1/decoder/reset
func (s *Server) resetDecoder(c *gin.Context) {
	if err := s.lm.ResetDecoder(); err != nil {
		s.decoderError(c, "Failed to reset decoder", err)
		return
	}

	s.logger.Info("Decoder reset via API", zap.String("client_ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{
		"message": "Decoder reset",
	})
}

// GET /api/v1/decoder/registers
func (s *Server) getRegisters(c *gin.Context) {
	regs, err := s.lm.Registers()
	if err != nil {
		s.decoderError(c, "Registers unavailable", err)
		return
	}
	if regs == nil {
		regs = []decoder.RegisterValue{}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":     len(regs),
		"registers": regs,
	})
}

func (s *Server) decoderError(c *gin.Context, message string, err error) {
	if errors.Is(err, interfaces.ErrNotReady) {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeNotReady, message, err.Error()))
		return
	}
	c.Error(err)
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeInternal, message, err.Error()))
}

type mappingEntryResponse struct {
	Address uint8            `json:"address"`
	Bit     uint8            `json:"bit"`
	Kind    string           `json:"kind"`
	ID      string           `json:"id,omitempty"`
	Backref *backrefResponse `json:"backreference,omitempty"`
	Line    int              `json:"line"`
}

type backrefResponse struct {
	Mode    mapping.BackrefMode `json:"mode"`
	Kind    string              `json:"kind"`
	Address uint8               `json:"address"`
	Bit     uint8               `json:"bit"`
}

// GET /api/v1/mapping
//
// Optional query: kind=<token> restricts the listing to one equipment kind.
func (s *Server) listMapping(c *gin.Context) {
	var (
		filter    types.EquipmentKind
		filtering bool
	)
	if token := c.Query("kind"); token != "" {
		kind, err := types.ParseKind(token)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid kind", err.Error()))
			return
		}
		filter, filtering = kind, true
	}

	entries := s.lm.MappingEntries()
	out := make([]mappingEntryResponse, 0, len(entries))
	for _, e := range entries {
		if filtering && e.Kind != filter {
			continue
		}

		resp := mappingEntryResponse{
			Address: e.Address,
			Bit:     e.Bit,
			Kind:    e.Kind.Token(),
			ID:      e.ID,
			Line:    e.Line,
		}
		if e.Back.Present() {
			resp.Backref = &backrefResponse{
				Mode:    e.Back.Mode,
				Kind:    e.Back.Kind.Token(),
				Address: e.Back.Target.Address,
				Bit:     e.Back.Target.Bit,
			}
		}
		out = append(out, resp)
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(out),
		"entries": out,
	})
}
