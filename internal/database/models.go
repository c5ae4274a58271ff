package database

import (
	"time"

	"github.com/uptrace/bun"

	"thinfleet/pkg/models"
)

// Device represents a device row using Bun ORM
type Device struct {
	bun.BaseModel `bun:"table:devices"`

	DeviceID        string         `bun:"device_id,pk"`
	MACAddress      string         `bun:"mac_address,unique,notnull"`
	IPAddress       string         `bun:"ip_address"`
	Hostname        string         `bun:"hostname"`
	HardwareProfile map[string]any `bun:"hardware_profile,type:json"`
	CurrentImage    string         `bun:"current_image"`
	TargetImage     string         `bun:"target_image"`
	Status          string         `bun:"status,notnull,default:'registered'"`
	Location        string         `bun:"location"`
	AssignedUser    string         `bun:"assigned_user"`
	LastSeen        time.Time      `bun:"last_seen,nullzero"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// ToModel converts database Device to domain model
func (d *Device) ToModel() *models.Device {
	return &models.Device{
		DeviceID:        d.DeviceID,
		MACAddress:      d.MACAddress,
		IPAddress:       d.IPAddress,
		Hostname:        d.Hostname,
		HardwareProfile: d.HardwareProfile,
		CurrentImage:    d.CurrentImage,
		TargetImage:     d.TargetImage,
		Status:          models.DeviceStatus(d.Status),
		Location:        d.Location,
		AssignedUser:    d.AssignedUser,
		LastSeen:        d.LastSeen,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// DeviceFromModel converts domain model to database Device
func DeviceFromModel(m *models.Device) *Device {
	return &Device{
		DeviceID:        m.DeviceID,
		MACAddress:      m.MACAddress,
		IPAddress:       m.IPAddress,
		Hostname:        m.Hostname,
		HardwareProfile: m.HardwareProfile,
		CurrentImage:    m.CurrentImage,
		TargetImage:     m.TargetImage,
		Status:          string(m.Status),
		Location:        m.Location,
		AssignedUser:    m.AssignedUser,
		LastSeen:        m.LastSeen,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// Image represents an image row using Bun ORM
type Image struct {
	bun.BaseModel `bun:"table:images"`

	ImageID     string         `bun:"image_id,pk"`
	Name        string         `bun:"name,notnull"`
	Version     string         `bun:"version,notnull"`
	Description string         `bun:"description"`
	FilePath    string         `bun:"file_path,notnull"`
	FileSize    int64          `bun:"file_size"`
	SHA256Hash  string         `bun:"sha256_hash,notnull"`
	Metadata    map[string]any `bun:"metadata,type:json"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ToModel converts database Image to domain model
func (i *Image) ToModel() *models.Image {
	return &models.Image{
		ImageID:     i.ImageID,
		Name:        i.Name,
		Version:     i.Version,
		Description: i.Description,
		FilePath:    i.FilePath,
		FileSize:    i.FileSize,
		SHA256Hash:  i.SHA256Hash,
		Metadata:    i.Metadata,
		CreatedAt:   i.CreatedAt,
	}
}

// ImageFromModel converts domain model to database Image
func ImageFromModel(m *models.Image) *Image {
	return &Image{
		ImageID:     m.ImageID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		FilePath:    m.FilePath,
		FileSize:    m.FileSize,
		SHA256Hash:  m.SHA256Hash,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
}

// Deployment represents a deployment row using Bun ORM
type Deployment struct {
	bun.BaseModel `bun:"table:deployments"`

	DeploymentID     string     `bun:"deployment_id,pk"`
	DeviceID         string     `bun:"device_id,notnull"`
	ImageID          string     `bun:"image_id,notnull"`
	DeploymentMethod string     `bun:"deployment_method,notnull"`
	Status           string     `bun:"status,notnull,default:'pending'"`
	Progress         int        `bun:"progress,notnull,default:0"`
	StartedAt        *time.Time `bun:"started_at"`
	CompletedAt      *time.Time `bun:"completed_at"`
	ErrorMessage     string     `bun:"error_message"`
	CreatedAt        time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ToModel converts database Deployment to domain model
func (d *Deployment) ToModel() *models.Deployment {
	return &models.Deployment{
		DeploymentID:     d.DeploymentID,
		DeviceID:         d.DeviceID,
		ImageID:          d.ImageID,
		DeploymentMethod: models.DeploymentMethod(d.DeploymentMethod),
		Status:           models.DeploymentStatus(d.Status),
		Progress:         d.Progress,
		StartedAt:        d.StartedAt,
		CompletedAt:      d.CompletedAt,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt,
	}
}

// DeploymentFromModel converts domain model to database Deployment
func DeploymentFromModel(m *models.Deployment) *Deployment {
	return &Deployment{
		DeploymentID:     m.DeploymentID,
		DeviceID:         m.DeviceID,
		ImageID:          m.ImageID,
		DeploymentMethod: string(m.DeploymentMethod),
		Status:           string(m.Status),
		Progress:         m.Progress,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
	}
}

// AgentCommand represents a queued agent command using Bun ORM
type AgentCommand struct {
	bun.BaseModel `bun:"table:agent_commands"`

	CommandID    string         `bun:"command_id,pk"`
	DeviceID     string         `bun:"device_id,notnull"`
	DeploymentID string         `bun:"deployment_id"`
	Type         string         `bun:"type,notnull"`
	Data         map[string]any `bun:"data,type:json"`
	Status       string         `bun:"status,notnull,default:'pending'"`
	Result       map[string]any `bun:"result,type:json"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	DispatchedAt *time.Time     `bun:"dispatched_at"`
	CompletedAt  *time.Time     `bun:"completed_at"`
}

// ToModel converts database AgentCommand to domain model
func (c *AgentCommand) ToModel() *models.Command {
	return &models.Command{
		CommandID:    c.CommandID,
		DeviceID:     c.DeviceID,
		DeploymentID: c.DeploymentID,
		Type:         models.CommandType(c.Type),
		Data:         c.Data,
		Status:       models.CommandStatus(c.Status),
		Result:       c.Result,
		CreatedAt:    c.CreatedAt,
		DispatchedAt: c.DispatchedAt,
		CompletedAt:  c.CompletedAt,
	}
}

// CommandFromModel converts domain model to database AgentCommand
func CommandFromModel(m *models.Command) *AgentCommand {
	return &AgentCommand{
		CommandID:    m.CommandID,
		DeviceID:     m.DeviceID,
		DeploymentID: m.DeploymentID,
		Type:         string(m.Type),
		Data:         m.Data,
		Status:       string(m.Status),
		Result:       m.Result,
		CreatedAt:    m.CreatedAt,
		DispatchedAt: m.DispatchedAt,
		CompletedAt:  m.CompletedAt,
	}
}
