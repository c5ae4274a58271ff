package models

import (
	"fmt"
	"time"
)

// DeploymentMethod selects the delivery strategy used for a deployment
type DeploymentMethod string

const (
	MethodPXE     DeploymentMethod = "pxe"
	MethodUSB     DeploymentMethod = "usb"
	MethodNetwork DeploymentMethod = "network"
)

// Methods lists every supported delivery method
var Methods = []DeploymentMethod{MethodPXE, MethodUSB, MethodNetwork}

// ParseMethod converts a user supplied method name into a DeploymentMethod
func ParseMethod(s string) (DeploymentMethod, error) {
	switch m := DeploymentMethod(s); m {
	case MethodPXE, MethodUSB, MethodNetwork:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

// DeploymentStatus is the state of a single deployment attempt
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentCompleted DeploymentStatus = "completed"
	DeploymentFailed    DeploymentStatus = "failed"
)

// Valid reports whether s is one of the known deployment states
func (s DeploymentStatus) Valid() bool {
	switch s {
	case DeploymentPending, DeploymentDeploying, DeploymentCompleted, DeploymentFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed
func (s DeploymentStatus) Terminal() bool {
	return s == DeploymentCompleted || s == DeploymentFailed
}

// Deployment tracks one attempt to deliver an image to a device
type Deployment struct {
	DeploymentID     string           `json:"deployment_id"`
	DeviceID         string           `json:"device_id"`
	ImageID          string           `json:"image_id"`
	DeploymentMethod DeploymentMethod `json:"deployment_method"`
	Status           DeploymentStatus `json:"status"`
	Progress         int              `json:"progress"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// DeploymentFilter narrows a deployment listing
type DeploymentFilter struct {
	DeviceID string
	Status   DeploymentStatus
}

// DeliveryResult is the method specific payload produced by a delivery strategy
type DeliveryResult struct {
	Method           DeploymentMethod `json:"method"`
	PXEConfig        string           `json:"pxe_config,omitempty"`
	ImageURL         string           `json:"image_url,omitempty"`
	ImageHash        string           `json:"image_hash,omitempty"`
	PackageDirectory string           `json:"package_directory,omitempty"`
	CommandID        string           `json:"command_id,omitempty"`
	Instructions     string           `json:"instructions,omitempty"`
}

// DeploymentResult is returned by a deploy request
type DeploymentResult struct {
	Success      bool      `json:"success"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	*DeliveryResult
}

// CompletionReport is sent by the agent or the booted image when a deployment finishes
type CompletionReport struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
