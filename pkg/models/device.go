package models

import "time"

// DeviceStatus is the lifecycle state of a thin-client device
type DeviceStatus string

const (
	DeviceStatusRegistered DeviceStatus = "registered"
	DeviceStatusDeploying  DeviceStatus = "deploying"
	DeviceStatusActive     DeviceStatus = "active"
	DeviceStatusError      DeviceStatus = "error"
)

// Valid reports whether s is one of the known device states
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusRegistered, DeviceStatusDeploying, DeviceStatusActive, DeviceStatusError:
		return true
	}
	return false
}

// Device represents a registered thin-client endpoint
type Device struct {
	DeviceID        string         `json:"device_id"`
	MACAddress      string         `json:"mac_address"`
	IPAddress       string         `json:"ip_address,omitempty"`
	Hostname        string         `json:"hostname,omitempty"`
	HardwareProfile map[string]any `json:"hardware_profile,omitempty"`
	CurrentImage    string         `json:"current_image,omitempty"`
	TargetImage     string         `json:"target_image,omitempty"`
	Status          DeviceStatus   `json:"status"`
	Location        string         `json:"location,omitempty"`
	AssignedUser    string         `json:"assigned_user,omitempty"`
	LastSeen        time.Time      `json:"last_seen"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
