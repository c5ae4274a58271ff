package models

import "time"

// Image is an immutable, content-addressed OS image artifact
type Image struct {
	ImageID     string         `json:"image_id"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	FilePath    string         `json:"file_path"`
	FileSize    int64          `json:"file_size"`
	SHA256Hash  string         `json:"sha256_hash"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
