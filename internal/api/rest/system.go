package rest

import (
	"net/http"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	if s.wsHub != nil {
		status.WSClients = s.wsHub.GetClientCount()
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/records/latest
func (s *Server) getLatestRecord(c *gin.Context) {
	rec, ok := s.lm.LatestRecord()
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("RECORD_404", "No record produced yet", nil))
		return
	}

	switch c.NegotiateFormat(gin.MIMEJSON, binding.MIMEPROTOBUF) {
	case binding.MIMEPROTOBUF:
		msg, err := rec.ToProto()
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse("RECORD_500", "Failed to encode record", err.Error()))
			return
		}
		c.ProtoBuf(http.StatusOK, msg)
	default:
		c.JSON(http.StatusOK, rec)
	}
}
