package models

import "time"

// CommandType identifies an action understood by the on-device agent
type CommandType string

const (
	CommandUpdateImage    CommandType = "update_image"
	CommandRestartSystem  CommandType = "restart_system"
	CommandCollectLogs    CommandType = "collect_logs"
	CommandRestartService CommandType = "restart_service"
)

// CommandStatus tracks delivery of a command to the agent
type CommandStatus string

const (
	CommandPending    CommandStatus = "pending"
	CommandDispatched CommandStatus = "dispatched"
	CommandCompleted  CommandStatus = "completed"
	CommandFailed     CommandStatus = "failed"
)

// Command is a queued instruction for a device agent, returned on heartbeat
type Command struct {
	CommandID    string         `json:"id"`
	DeviceID     string         `json:"device_id"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	Type         CommandType    `json:"type"`
	Data         map[string]any `json:"data"`
	Status       CommandStatus  `json:"status"`
	Result       map[string]any `json:"result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}
