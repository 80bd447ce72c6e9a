package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/sensors
func (s *Server) listSensors(c *gin.Context) {
	sensors := s.lm.SensorManager().List()

	c.JSON(http.StatusOK, gin.H{
		"sensors": sensors,
		"count":   len(sensors),
	})
}

// GET /api/v1/sensors/:name
func (s *Server) getSensor(c *gin.Context) {
	sensor, exists := s.lm.SensorManager().Get(c.Param("name"))
	if !exists {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SENSOR_404", "Sensor not found", nil))
		return
	}

	c.JSON(http.StatusOK, sensor.Definition())
}

// POST /api/v1/sensors creates or replaces a sensor. It takes effect from the
// next poll cycle.
func (s *Server) applySensor(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Failed to read request body", err.Error()))
		return
	}

	def, err := s.validator.DecodeSensor(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid sensor definition", err.Error()))
		return
	}

	spec, created, err := s.lm.SensorManager().Apply(c.Request.Context(), def)
	var cfgErr *types.ConfigError
	if errors.As(err, &cfgErr) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("SENSOR_400", "Invalid sensor definition", cfgErr.Error()))
		return
	}
	if err != nil {
		s.logger.Error("Failed to apply sensor", zap.String("sensor", def.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SENSOR_500", "Failed to save sensor", err.Error()))
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, spec.Definition())
}

// DELETE /api/v1/sensors/:name
func (s *Server) deleteSensor(c *gin.Context) {
	name := c.Param("name")

	err := s.lm.SensorManager().Delete(c.Request.Context(), name)
	if errors.Is(err, types.ErrSensorNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SENSOR_404", "Sensor not found", nil))
		return
	}
	if err != nil {
		s.logger.Error("Failed to delete sensor", zap.String("sensor", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("SENSOR_500", "Failed to delete sensor", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sensor deleted successfully",
	})
}
