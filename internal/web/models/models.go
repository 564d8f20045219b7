package models

import (
	"time"

	"smartgarden/internal/models"
)

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"omitempty,email"`
}

// ActivateRequest is the body of a manual activation
type ActivateRequest struct {
	Intensity *int `json:"intensity"`
	Duration  int  `json:"duration"` // minutes, 0 for indefinite
}

// ControlState is what a device needs to know about one of its actuators
type ControlState struct {
	ControlID string        `json:"controlId"`
	Mode      models.Mode   `json:"mode"`
	Status    models.Status `json:"status"`
	IsOn      bool          `json:"isOn"`
	Intensity int           `json:"intensity"`
}

// HeartbeatResponse answers a device poll
type HeartbeatResponse struct {
	Success  bool                    `json:"success"`
	DeviceID string                  `json:"deviceId"`
	Controls map[string]ControlState `json:"controls"`
}

// ControlResponse is a control with the next start of its schedules
type ControlResponse struct {
	*models.Control
	NextRuns map[string]time.Time `json:"nextRuns,omitempty"`
}

type HistoryResponse struct {
	ControlID string                   `json:"controlId"`
	Page      int                      `json:"page"`
	Limit     int                      `json:"limit"`
	Records   []models.ExecutionRecord `json:"records"`
}
