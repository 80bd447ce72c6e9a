package types

import (
	"errors"
	"fmt"
)

var ErrSensorNotFound = errors.New("sensor not found")

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ConfigError is a rejected sensor or field definition. Unit is "sensor" or
// "field" and tells the loader how much to drop.
type ConfigError struct {
	Sensor string
	Field  string
	Unit   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: sensor %q field %q: %s", e.Sensor, e.Field, e.Reason)
	}
	if e.Sensor != "" {
		return fmt.Sprintf("config: sensor %q: %s", e.Sensor, e.Reason)
	}
	return "config: " + e.Reason
}
